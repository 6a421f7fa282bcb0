package kernel

// lcg is the classic ANSI C linear congruential generator, reduced
// modulo 2^31. Callers serialize access.
type lcg struct {
	state uint32
}

func newLCG(seed uint32) *lcg { return &lcg{state: seed} }

func (r *lcg) next() uint32 {
	r.state = (r.state*1103515245 + 12345) % 2147483648
	return r.state
}
