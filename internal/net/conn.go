package net

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oxidems/server/internal/net/packet"
)

// ErrNotHandshaken is returned by packet I/O before a codec is installed.
var ErrNotHandshaken = errors.New("connection not handshaken")

const readChunk = 4096

// Handshake is the plaintext hello sent once by the server before framing
// starts. IVs are named from the server's side; the client mirrors them.
type Handshake struct {
	Version uint16
	Patch   string
	RecvIV  [4]byte // server receive IV, the client's send IV
	SendIV  [4]byte // server send IV, the client's receive IV
	Locale  byte
}

// NewHandshake fills a hello with fresh random IVs.
func NewHandshake(version uint16, patch string, locale byte) (Handshake, error) {
	h := Handshake{Version: version, Patch: patch, Locale: locale}
	if _, err := rand.Read(h.RecvIV[:]); err != nil {
		return h, fmt.Errorf("generate recv iv: %w", err)
	}
	if _, err := rand.Read(h.SendIV[:]); err != nil {
		return h, fmt.Errorf("generate send iv: %w", err)
	}
	return h, nil
}

// Bytes encodes the hello: [2B length of rest][2B version][string patch]
// [4B recv IV][4B send IV][1B locale].
func (h Handshake) Bytes() []byte {
	body := packet.NewRaw()
	body.WriteUint16(h.Version)
	body.WriteString(h.Patch)
	body.WriteBytes(h.RecvIV[:])
	body.WriteBytes(h.SendIV[:])
	body.WriteUint8(h.Locale)

	out := packet.NewRaw()
	out.WriteUint16(uint16(body.Len()))
	out.WriteBytes(body.Bytes())
	return out.Bytes()
}

// ServerCodec returns the codec the server uses after sending h.
func (h Handshake) ServerCodec() *Codec {
	return NewCodec(NewCipher(h.SendIV, 0xffff-h.Version), NewCipher(h.RecvIV, h.Version))
}

// ClientCodec returns the mirrored codec a client builds from h.
func (h Handshake) ClientCodec() *Codec {
	return NewCodec(NewCipher(h.RecvIV, h.Version), NewCipher(h.SendIV, 0xffff-h.Version))
}

// ReadHandshake parses a hello from r.
func ReadHandshake(r io.Reader) (Handshake, error) {
	var h Handshake
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return h, fmt.Errorf("read handshake length: %w", err)
	}
	body := make([]byte, binary.LittleEndian.Uint16(lenBuf[:]))
	if _, err := io.ReadFull(r, body); err != nil {
		return h, fmt.Errorf("read handshake body: %w", err)
	}

	p := packet.Wrap(body)
	h.Version = p.ReadUint16()
	h.Patch = p.ReadString()
	copy(h.RecvIV[:], p.ReadBytes(4))
	copy(h.SendIV[:], p.ReadBytes(4))
	h.Locale = p.ReadUint8()
	if err := p.Err(); err != nil {
		return h, fmt.Errorf("parse handshake: %w", err)
	}
	return h, nil
}

// Conn owns one socket and its codec and hides all byte-stream framing.
// ReadPacket is called from a single reader goroutine and WritePacket from the
// session goroutine; each touches only its own cipher.
type Conn struct {
	conn  net.Conn
	codec *Codec

	buf   []byte
	chunk []byte
	eof   bool

	readTimeout  time.Duration
	writeTimeout time.Duration

	wmu       sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func NewConn(c net.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{
		conn:         c,
		chunk:        make([]byte, readChunk),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// Handshake writes the plaintext hello and installs the server codec.
func (c *Conn) Handshake(h Handshake) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.conn.Write(h.Bytes()); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}
	c.codec = h.ServerCodec()
	return nil
}

// UseCodec installs a codec directly, for the client side of a connection.
func (c *Conn) UseCodec(codec *Codec) {
	c.codec = codec
}

// ReadPacket blocks until one whole packet is decoded. It returns io.EOF when
// the peer closed cleanly between packets. On ErrInvalidHeader the buffered
// bytes are discarded and the connection must be dropped.
func (c *Conn) ReadPacket() (*packet.Packet, error) {
	if c.codec == nil {
		return nil, ErrNotHandshaken
	}
	for {
		p, n, err := c.codec.Decode(c.buf)
		if err != nil {
			c.buf = nil
			return nil, err
		}
		if p != nil {
			c.buf = append(c.buf[:0], c.buf[n:]...)
			return p, nil
		}
		if c.eof {
			if len(c.buf) == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		}

		if c.readTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		m, err := c.conn.Read(c.chunk)
		c.buf = append(c.buf, c.chunk[:m]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.eof = true
				continue
			}
			return nil, fmt.Errorf("read: %w", err)
		}
	}
}

// WritePacket encodes p and writes it. Any error leaves the send cipher
// ahead of the peer, so the caller must drop the connection.
func (c *Conn) WritePacket(p *packet.Packet) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.codec == nil {
		return ErrNotHandshaken
	}
	data, err := c.codec.Encode(p)
	if err != nil {
		return err
	}
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	return nil
}

// Close closes the socket. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
