package call

func __VERIFIER_nondet_int8() int8   { return 0 }
func __VERIFIER_nondet_int16() int16 { return 0 }
func __VERIFIER_assume(cond bool)    {}
func __VERIFIER_error()              {}

func caller() int32 {
	x := __VERIFIER_nondet_int8()
	y := __VERIFIER_nondet_int16()
	return callee(x, y)
}

func callee(a int8, b int16) int32 {
	x := int32(a) * int32(b)
	if x > 10 {
		return x + 1
	}
	return x - 1
}

func twice(x int) int {
	return inc(inc(x))
}

func inc(x int) int {
	return x + 1
}

func checked(x int8) {
	__VERIFIER_assume(x < 100)
	if x > 100 {
		__VERIFIER_error()
	}
}
