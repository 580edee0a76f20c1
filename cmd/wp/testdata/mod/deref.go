package mod

func deref(p *int) int {
	return *p
}
