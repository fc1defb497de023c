package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// MaxStringLen is the longest string WriteString can frame. The length prefix
// is 16 bits and the client reads it signed, so longer strings wrap silently;
// callers must check before writing.
const MaxStringLen = 32767

// ErrShortRead is reported when a read runs past the end of the packet.
var ErrShortRead = errors.New("packet: read past end")

// Packet is a little-endian byte buffer with a read cursor. A packet built
// with New is append-only; a packet from Wrap is read front to back. Reads
// past the end return the zero value, leave the cursor alone and set a sticky
// error that handlers check through Err before acting on what they read.
type Packet struct {
	buf []byte
	off int
	err error
}

// New starts an outbound packet with the given opcode.
func New(opcode uint16) *Packet {
	p := &Packet{buf: make([]byte, 0, 64)}
	p.WriteUint16(opcode)
	return p
}

// NewRaw starts an outbound packet with no opcode (handshake).
func NewRaw() *Packet {
	return &Packet{buf: make([]byte, 0, 32)}
}

// Wrap takes ownership of data for reading.
func Wrap(data []byte) *Packet {
	return &Packet{buf: data}
}

// ── writers ──

// WriteUint8 writes 1 byte.
func (p *Packet) WriteUint8(v uint8) {
	p.buf = append(p.buf, v)
}

// WriteBool writes 1 byte, 1 for true.
func (p *Packet) WriteBool(v bool) {
	if v {
		p.WriteUint8(1)
		return
	}
	p.WriteUint8(0)
}

// WriteBytes writes raw bytes.
func (p *Packet) WriteBytes(b []byte) {
	p.buf = append(p.buf, b...)
}

// WriteZero writes n zero bytes.
func (p *Packet) WriteZero(n int) {
	for i := 0; i < n; i++ {
		p.buf = append(p.buf, 0)
	}
}

func (p *Packet) WriteInt16(v int16) {
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(v))
}

func (p *Packet) WriteUint16(v uint16) {
	p.buf = binary.LittleEndian.AppendUint16(p.buf, v)
}

func (p *Packet) WriteInt32(v int32) {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, uint32(v))
}

func (p *Packet) WriteInt64(v int64) {
	p.buf = binary.LittleEndian.AppendUint64(p.buf, uint64(v))
}

// WriteString writes a 2-byte length followed by the raw bytes of s.
// Strings longer than MaxStringLen are not rejected.
func (p *Packet) WriteString(s string) {
	p.WriteInt16(int16(len(s)))
	p.buf = append(p.buf, s...)
}

// WritePaddedString writes s and pads it with NULs up to n bytes. A string
// longer than n is written whole.
func (p *Packet) WritePaddedString(s string, n int) {
	p.buf = append(p.buf, s...)
	if len(s) < n {
		p.WriteZero(n - len(s))
	}
}

// ── readers ──

// take returns the next n bytes and advances, or records ErrShortRead.
func (p *Packet) take(n int) ([]byte, bool) {
	if p.err != nil {
		return nil, false
	}
	if n < 0 || p.off+n > len(p.buf) {
		p.err = fmt.Errorf("%w: want %d at offset %d, have %d", ErrShortRead, n, p.off, len(p.buf))
		return nil, false
	}
	b := p.buf[p.off : p.off+n]
	p.off += n
	return b, true
}

func (p *Packet) ReadUint8() uint8 {
	b, ok := p.take(1)
	if !ok {
		return 0
	}
	return b[0]
}

func (p *Packet) ReadBool() bool {
	return p.ReadUint8() != 0
}

func (p *Packet) ReadInt16() int16 {
	return int16(p.ReadUint16())
}

func (p *Packet) ReadUint16() uint16 {
	b, ok := p.take(2)
	if !ok {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (p *Packet) ReadInt32() int32 {
	b, ok := p.take(4)
	if !ok {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}

func (p *Packet) ReadInt64() int64 {
	b, ok := p.take(8)
	if !ok {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

// ReadBytes returns a copy of the next n bytes.
func (p *Packet) ReadBytes(n int) []byte {
	b, ok := p.take(n)
	if !ok {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// ReadString reads a length-prefixed string.
func (p *Packet) ReadString() string {
	n := p.ReadUint16()
	b, ok := p.take(int(n))
	if !ok {
		return ""
	}
	return string(b)
}

// Skip advances the cursor by n bytes without interpreting them.
func (p *Packet) Skip(n int) {
	p.take(n)
}

// Err returns the first read error, if any.
func (p *Packet) Err() error {
	return p.err
}

// Remaining returns the number of unread bytes.
func (p *Packet) Remaining() int {
	return len(p.buf) - p.off
}

// Len returns the total packet length.
func (p *Packet) Len() int {
	return len(p.buf)
}

// Bytes returns the underlying buffer.
func (p *Packet) Bytes() []byte {
	return p.buf
}

// Opcode returns the leading opcode without moving the cursor.
func (p *Packet) Opcode() uint16 {
	if len(p.buf) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(p.buf)
}

// String renders the packet as [0x05, 0x00] for debug logs.
func (p *Packet) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, b := range p.buf {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "0x%02X", b)
	}
	sb.WriteByte(']')
	return sb.String()
}
