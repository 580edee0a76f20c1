package mod

// abs without branches.
func abs(x int) int {
	y := x >> 63
	return (x ^ y) - y
}
