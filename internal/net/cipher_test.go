package net

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShuffleIVKnownVectors(t *testing.T) {
	assert.Equal(t, [4]byte{0xdd, 0x30, 0xa1, 0x2a}, shuffleIV([4]byte{0x52, 0x30, 0x78, 0x61}))
	assert.Equal(t, [4]byte{0x11, 0xbb, 0x64, 0xc7}, shuffleIV([4]byte{}))
}

func TestCipherKnownVector(t *testing.T) {
	c := NewCipher([4]byte{0x46, 0x72, 0x7a, 0x52}, 83)
	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(i)
	}
	want := []byte{
		0x15, 0xbf, 0xc6, 0x6e, 0x87, 0xf1, 0xa3, 0xa4,
		0x57, 0x23, 0xe2, 0x11, 0x04, 0xfd, 0xef, 0x86,
	}
	assert.Equal(t, want, c.Transform(data))
}

func TestCipherSymmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	iv := [4]byte{0x46, 0x72, 0x11, 0x52}
	send := NewCipher(iv, 83)
	recv := NewCipher(iv, 83)

	// Sizes cross the 1456 and 1460 byte segment boundaries.
	for _, n := range []int{0, 1, 4, 15, 16, 17, 1455, 1456, 1457, 2916, 2917, 5000} {
		orig := make([]byte, n)
		rng.Read(orig)
		data := make([]byte, n)
		copy(data, orig)

		send.Transform(data)
		if n > 16 {
			assert.NotEqual(t, orig, data, "length %d left unchanged", n)
		}
		recv.Transform(data)
		require.Equal(t, orig, data, "length %d", n)
		require.Equal(t, send.IV(), recv.IV(), "IVs diverged after length %d", n)
	}
}

func TestCipherAdvancesIV(t *testing.T) {
	c := NewCipher([4]byte{0x52, 0x30, 0x78, 0x61}, 83)
	before := c.IV()
	c.Transform([]byte{1, 2, 3})
	assert.Equal(t, shuffleIV(before), c.IV())
	assert.Equal(t, uint16(83), c.Version())
}

func TestCipherDesyncIsPermanent(t *testing.T) {
	iv := [4]byte{1, 2, 3, 4}
	send := NewCipher(iv, 83)
	recv := NewCipher(iv, 83)

	first := []byte("first packet payload")
	second := []byte("second packet payload")
	send.Transform(append([]byte(nil), first...))
	wire := send.Transform(append([]byte(nil), second...))

	// recv skipped the first packet.
	got := recv.Transform(wire)
	assert.NotEqual(t, second, got)
	assert.NotEqual(t, send.IV(), recv.IV())
}
