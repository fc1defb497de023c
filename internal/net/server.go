package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/oxidems/server/internal/net/packet"
	"go.uber.org/zap"
)

// Options configures the handshake and per-connection behaviour.
type Options struct {
	Version uint16
	Patch   string
	Locale  byte

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	InQueueSize    int
	MaxConnections int

	// OnClose runs on the session goroutine after Run returns, before the
	// session's shutdown handle is released.
	OnClose func(*Session)
}

// Server accepts TCP connections and runs one session goroutine per client.
type Server struct {
	listener net.Listener
	registry *packet.Registry
	coord    *Coordinator
	opts     Options
	nextID   atomic.Uint64
	live     atomic.Int64
	log      *zap.Logger
}

func NewServer(bindAddr string, reg *packet.Registry, opts Options, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	if opts.InQueueSize <= 0 {
		opts.InQueueSize = 32
	}
	return &Server{
		listener: ln,
		registry: reg,
		coord:    NewCoordinator(),
		opts:     opts,
		log:      log,
	}, nil
}

// Serve runs the accept loop until ctx ends or the listener fails, then
// broadcasts shutdown and waits for every session to exit. Cleanup that must
// see no live sessions belongs after Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.listener.Close()
		case <-stop:
		}
	}()

	err := s.acceptLoop(ctx)
	close(stop)
	s.listener.Close()

	s.coord.Broadcast()
	s.log.Info("waiting for sessions to exit", zap.Int64("sessions", s.live.Load()))
	s.coord.Wait(context.Background())
	s.log.Info("all sessions exited")
	return err
}

func (s *Server) acceptLoop(ctx context.Context) error {
	// Sessions keep their database calls alive until the shutdown broadcast
	// reaches them; cancelling ctx only stops accepting.
	sessCtx := context.WithoutCancel(ctx)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.log.Warn("accept timeout", zap.Error(err))
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		if limit := s.opts.MaxConnections; limit > 0 && s.live.Load() >= int64(limit) {
			s.log.Warn("connection limit reached, rejecting", zap.String("ip", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		id := s.nextID.Add(1)
		shutdown := s.coord.Subscribe()
		s.live.Add(1)
		go s.serveConn(sessCtx, conn, id, shutdown)
	}
}

func (s *Server) serveConn(ctx context.Context, c net.Conn, id uint64, shutdown *Shutdown) {
	defer shutdown.Release()
	defer s.live.Add(-1)

	conn := NewConn(c, s.opts.ReadTimeout, s.opts.WriteTimeout)
	sess := NewSession(conn, id, shutdown, s.opts.InQueueSize, s.log)
	sess.Log().Info("client connected", zap.String("ip", sess.IP))

	defer func() {
		sess.Close()
		if s.opts.OnClose != nil {
			s.opts.OnClose(sess)
		}
		sess.Log().Info("client disconnected", zap.String("account", sess.AccountName))
	}()

	h, err := NewHandshake(s.opts.Version, s.opts.Patch, s.opts.Locale)
	if err != nil {
		sess.Log().Error("handshake setup failed", zap.Error(err))
		return
	}
	if err := conn.Handshake(h); err != nil {
		sess.Log().Debug("handshake write failed", zap.Error(err))
		return
	}
	sess.Log().Debug("handshake sent",
		zap.String("recv_iv", fmt.Sprintf("%X", h.RecvIV)),
		zap.String("send_iv", fmt.Sprintf("%X", h.SendIV)),
	)

	if err := sess.Run(ctx, s.registry); err != nil {
		sess.Log().Info("connection error", zap.Error(err))
	}
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// SessionCount returns the number of live session goroutines.
func (s *Server) SessionCount() int {
	return int(s.live.Load())
}
