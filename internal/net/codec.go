package net

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/oxidems/server/internal/net/packet"
)

// HeaderSize is the size of the obfuscated per-packet header.
const HeaderSize = 4

// MaxBodyLength is the largest payload the 16-bit header can describe.
const MaxBodyLength = 0xffff

var (
	// ErrInvalidHeader means the header does not match the receive cipher's
	// IV and version. The stream is unrecoverable.
	ErrInvalidHeader = errors.New("invalid packet header")

	// ErrPacketTooLarge is returned by Encode for payloads over MaxBodyLength.
	ErrPacketTooLarge = errors.New("packet too large")
)

// Codec turns packets into wire frames and back. Wire format:
// [4-byte header][payload], payload = Cipher(Shanda(packet)).
// Encode and Decode each advance their cipher's IV, so every call is part of
// the session's ordering contract: never retried, never concurrent.
type Codec struct {
	send *Cipher
	recv *Cipher
}

func NewCodec(send, recv *Cipher) *Codec {
	return &Codec{send: send, recv: recv}
}

// Header computes the 4-byte header for a payload of length n from the send
// cipher's current state.
func (c *Codec) Header(n int) [HeaderSize]byte {
	return makeHeader(c.send.iv, c.send.version, n)
}

func makeHeader(iv [4]byte, version uint16, n int) [HeaderSize]byte {
	a := (uint16(iv[3]) | uint16(iv[2])<<8) ^ version
	b := a ^ bits.ReverseBytes16(uint16(n))
	return [HeaderSize]byte{byte(a >> 8), byte(a), byte(b >> 8), byte(b)}
}

// ValidHeader checks the version bits of h against the receive cipher.
func (c *Codec) ValidHeader(h []byte) bool {
	if len(h) < HeaderSize {
		return false
	}
	iv := c.recv.iv
	v := c.recv.version
	return h[0]^iv[2] == byte(v>>8) && h[1]^iv[3] == byte(v)
}

// BodyLength recovers the payload length folded into a header.
func BodyLength(h []byte) int {
	return int(h[0]^h[2]) | int(h[1]^h[3])<<8
}

// Encode frames p for the wire and advances the send IV.
func (c *Codec) Encode(p *packet.Packet) ([]byte, error) {
	n := p.Len()
	if n > MaxBodyLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, n)
	}
	header := c.Header(n)

	out := make([]byte, HeaderSize+n)
	copy(out, header[:])
	body := out[HeaderSize:]
	copy(body, p.Bytes())
	ShandaEncrypt(body)
	c.send.Transform(body)
	return out, nil
}

// Decode takes the next frame from buf. It returns (nil, 0, nil) when buf
// does not yet hold a whole frame, ErrInvalidHeader when the header does not
// match, otherwise the packet and the number of bytes consumed. The receive
// IV only advances when a whole frame is decoded.
func (c *Codec) Decode(buf []byte) (*packet.Packet, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, nil
	}
	header := buf[:HeaderSize]
	if !c.ValidHeader(header) {
		return nil, 0, ErrInvalidHeader
	}
	n := BodyLength(header)
	if len(buf) < HeaderSize+n {
		return nil, 0, nil
	}

	body := make([]byte, n)
	copy(body, buf[HeaderSize:HeaderSize+n])
	c.recv.Transform(body)
	ShandaDecrypt(body)
	return packet.Wrap(body), HeaderSize + n, nil
}
