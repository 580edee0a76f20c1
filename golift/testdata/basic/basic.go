package basic

func inc(x int) int {
	return x + 1
}

func max(a, b int) int {
	if a < b {
		return b
	}
	return a
}

func sum(n int) int {
	s := 0
	for i := 0; i < n; i++ {
		s += i
	}
	return s
}

func div(a, b int) int {
	if b == 0 {
		panic("division by zero")
	}
	return a / b
}

func divmod(a, b uint8) (uint8, uint8) {
	if b == 0 {
		return 0, 0
	}
	return a / b, a % b
}

func sign(x int16) (int16, bool) {
	return x >> 15, x < 0
}

func name() string {
	return "basic"
}

func quo(a, b int) int {
	return a / b
}
