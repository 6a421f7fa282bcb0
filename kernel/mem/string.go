package mem

func memset(dst []byte, c byte) {
	for i := range dst {
		dst[i] = c
	}
}
