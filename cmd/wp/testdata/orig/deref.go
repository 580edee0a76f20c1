package orig

func deref(p *int) int {
	return *p
}
