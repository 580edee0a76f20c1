package bad

func abs(x int) int {
	return x
}
