package packet

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// SessionState represents the session's current login phase.
type SessionState int

const (
	StateLoggedOut SessionState = iota
	StateLoggedIn               // credentials accepted, picking a world
	StateInWorld                // world and channel selected, at character select
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateLoggedOut:
		return "LoggedOut"
	case StateLoggedIn:
		return "LoggedIn"
	case StateInWorld:
		return "InWorld"
	case StateDisconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

var (
	ErrEmptyPacket     = errors.New("packet: empty")
	ErrStateNotAllowed = errors.New("packet: opcode not allowed in state")
)

// Handler processes one decoded packet. The cursor sits after the opcode.
// The session is passed as an opaque value to avoid import cycles.
type Handler interface {
	Handle(ctx context.Context, sess any, p *Packet) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, sess any, p *Packet) error

func (f HandlerFunc) Handle(ctx context.Context, sess any, p *Packet) error {
	return f(ctx, sess, p)
}

type handlerEntry struct {
	h             Handler
	allowedStates map[SessionState]bool
}

// Registry maps opcodes to handlers with state-based access control.
// It is filled before the accept loop starts and read-only afterwards.
type Registry struct {
	handlers map[uint16]*handlerEntry
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[uint16]*handlerEntry),
		log:      log,
	}
}

// Register maps an opcode to a handler, restricted to the given session states.
func (reg *Registry) Register(opcode uint16, states []SessionState, h Handler) {
	allowed := make(map[SessionState]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	reg.handlers[opcode] = &handlerEntry{
		h:             h,
		allowedStates: allowed,
	}
}

// Handles reports whether an opcode has a handler.
func (reg *Registry) Handles(opcode uint16) bool {
	_, ok := reg.handlers[opcode]
	return ok
}

// Dispatch reads the opcode, validates the session state and calls the
// handler. Unknown opcodes are logged and dropped.
func (reg *Registry) Dispatch(ctx context.Context, sess any, state SessionState, p *Packet) error {
	opcode := p.ReadUint16()
	if err := p.Err(); err != nil {
		return ErrEmptyPacket
	}
	reg.log.Debug("RX",
		zap.String("op", fmt.Sprintf("0x%02X", opcode)),
		zap.Int("size", p.Len()),
		zap.String("state", state.String()),
	)

	entry, ok := reg.handlers[opcode]
	if !ok {
		reg.log.Debug("unhandled opcode",
			zap.String("op", fmt.Sprintf("0x%02X", opcode)),
			zap.Stringer("packet", p),
		)
		return nil
	}

	if !entry.allowedStates[state] {
		reg.log.Warn("opcode not allowed in state",
			zap.String("op", fmt.Sprintf("0x%02X", opcode)),
			zap.String("state", state.String()),
		)
		return fmt.Errorf("%w: 0x%02X in %s", ErrStateNotAllowed, opcode, state)
	}

	if err := reg.safeCall(ctx, entry.h, sess, p, opcode); err != nil {
		return err
	}
	return p.Err()
}

// safeCall executes a handler with panic recovery so one bad packet cannot
// take the process down.
func (reg *Registry) safeCall(ctx context.Context, h Handler, sess any, p *Packet, opcode uint16) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("handler panic recovered",
				zap.String("op", fmt.Sprintf("0x%02X", opcode)),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for opcode 0x%02X: %v", opcode, rec)
		}
	}()
	return h.Handle(ctx, sess, p)
}
