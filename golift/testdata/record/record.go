package record

type T struct {
	A    int8
	B, C int
	D    int32
}

var t T

func simple(b int) bool {
	t.A = 5
	t.B = b
	t.C = 7
	t.D = 8
	return int(t.A)+t.B == t.C
}
