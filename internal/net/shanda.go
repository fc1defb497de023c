package net

// ShandaEncrypt applies the Shanda byte shuffle to data in place and returns it.
// Three rounds, each a forward pass followed by a backward pass. j is the
// 1-based distance from the end of the buffer. The arithmetic must stay
// bit-exact with the v83 client.
func ShandaEncrypt(data []byte) []byte {
	n := len(data)
	for round := 0; round < 3; round++ {
		a := 0
		for j := n; j > 0; j-- {
			c := rollLeft(int(data[n-j]), 3)
			c = (c + j) & 0xff
			c ^= a
			a = c
			c = rollRight(a, j)
			c ^= 0xff
			c = (c + 0x48) & 0xff
			data[n-j] = byte(c)
		}

		a = 0
		for j := n; j > 0; j-- {
			c := rollLeft(int(data[j-1]), 4)
			c = (c + j) & 0xff
			c ^= a
			a = c
			c ^= 0x13
			c = rollRight(c, 3)
			data[j-1] = byte(c)
		}
	}
	return data
}

// ShandaDecrypt reverses ShandaEncrypt in place and returns data.
func ShandaDecrypt(data []byte) []byte {
	n := len(data)
	for round := 0; round < 3; round++ {
		b := 0
		for j := n; j > 0; j-- {
			c := rollLeft(int(data[j-1]), 3)
			c ^= 0x13
			a := c
			c ^= b
			c = (c - j) & 0xff
			c = rollRight(c, 4)
			b = a
			data[j-1] = byte(c)
		}

		b = 0
		for j := n; j > 0; j-- {
			c := (int(data[n-j]) - 0x48) & 0xff
			c ^= 0xff
			c = rollLeft(c, j)
			a := c
			c ^= b
			c = (c - j) & 0xff
			c = rollRight(c, 3)
			b = a
			data[n-j] = byte(c)
		}
	}
	return data
}

// rollLeft rotates the low 8 bits of v left by shift%8.
func rollLeft(v, shift int) int {
	overflow := v << (shift % 8)
	return ((overflow & 0xff) | (overflow >> 8)) & 0xff
}

// rollRight rotates the low 8 bits of v right by shift%8.
func rollRight(v, shift int) int {
	overflow := (v << 8) >> (shift % 8)
	return ((overflow & 0xff) | (overflow >> 8)) & 0xff
}
