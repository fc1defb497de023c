package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/oxidems/server/internal/net/packet"
	"go.uber.org/zap"
)

// NoSelection marks an unselected world or channel.
const NoSelection = -1

// Session is the per-connection state. A reader goroutine owns the receive
// cipher and feeds decoded packets to Run; everything else, handlers
// included, runs on the goroutine that called Run.
type Session struct {
	ID uint64
	IP string

	conn     *Conn
	shutdown *Shutdown
	state    packet.SessionState

	AccountID   int32
	AccountName string
	Gender      byte
	GM          bool
	Pin         string
	Pic         string
	PinVerified bool
	Slots       int

	LoginAttempts int
	PinAttempts   int
	PicAttempts   int

	WorldID   int
	ChannelID int

	inSize  int
	readErr error

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	log *zap.Logger
}

func NewSession(conn *Conn, id uint64, shutdown *Shutdown, inSize int, log *zap.Logger) *Session {
	ip := ""
	if addr := conn.RemoteAddr(); addr != nil {
		ip = addr.String()
	}
	return &Session{
		ID:        id,
		IP:        ip,
		conn:      conn,
		shutdown:  shutdown,
		state:     packet.StateLoggedOut,
		WorldID:   NoSelection,
		ChannelID: NoSelection,
		inSize:    inSize,
		closeCh:   make(chan struct{}),
		log:       log.With(zap.Uint64("session", id)),
	}
}

func (s *Session) State() packet.SessionState {
	return s.state
}

func (s *Session) SetState(st packet.SessionState) {
	s.log.Debug("state change", zap.Stringer("from", s.state), zap.Stringer("to", st))
	s.state = st
}

// Log returns the session-scoped logger.
func (s *Session) Log() *zap.Logger {
	return s.log
}

// HasWorld reports whether a world and channel have been selected.
func (s *Session) HasWorld() bool {
	return s.WorldID != NoSelection && s.ChannelID != NoSelection
}

// Send encodes and writes p immediately. A failed write closes the session.
func (s *Session) Send(p *packet.Packet) error {
	if s.closed.Load() {
		return io.ErrClosedPipe
	}
	s.log.Debug("TX",
		zap.String("op", fmt.Sprintf("0x%02X", p.Opcode())),
		zap.Int("len", p.Len()),
	)
	if err := s.conn.WritePacket(p); err != nil {
		s.Close()
		return err
	}
	return nil
}

// Close tears the connection down. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.state = packet.StateDisconnected
		close(s.closeCh)
		s.conn.Close()
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Run processes packets in arrival order until the peer disconnects, a fatal
// error occurs, a handler closes the session, or shutdown is broadcast. The
// shutdown signal wins immediately; a packet half-read by the reader is
// simply discarded with the connection.
func (s *Session) Run(ctx context.Context, reg *packet.Registry) error {
	packets := make(chan *packet.Packet, s.inSize)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		s.readLoop(packets)
	}()
	defer func() {
		s.Close()
		<-readDone
	}()

	for {
		select {
		case <-s.shutdown.Done():
			s.log.Debug("shutdown signal received")
			return nil
		case p, ok := <-packets:
			if !ok {
				return s.readErr
			}
			// select picks at random when both are ready.
			if s.shutdown.IsShutdown() {
				s.log.Debug("shutdown signal received")
				return nil
			}
			if err := reg.Dispatch(ctx, s, s.state, p); err != nil {
				if !recoverable(err) {
					return fmt.Errorf("handle packet: %w", err)
				}
				if errors.Is(err, packet.ErrStateNotAllowed) {
					// Already logged by the registry.
					s.log.Debug("packet dropped", zap.Error(err))
				} else {
					s.log.Warn("packet dropped", zap.Error(err), zap.Stringer("packet", p))
				}
			}
			if s.IsClosed() {
				return nil
			}
		}
	}
}

// recoverable errors drop the packet but keep the connection.
func recoverable(err error) bool {
	return errors.Is(err, packet.ErrShortRead) ||
		errors.Is(err, packet.ErrStateNotAllowed) ||
		errors.Is(err, packet.ErrEmptyPacket)
}

// readLoop decodes packets and hands them to Run. It closes out when the
// connection ends; readErr is set first for anything but a clean close.
func (s *Session) readLoop(out chan<- *packet.Packet) {
	defer close(out)
	for {
		p, err := s.conn.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) || s.closed.Load() {
				return
			}
			if errors.Is(err, ErrInvalidHeader) {
				s.log.Warn("invalid packet header, cipher out of sync")
			}
			s.readErr = err
			return
		}
		select {
		case out <- p:
		case <-s.closeCh:
			return
		}
	}
}
