package handler

import (
	"context"

	"github.com/oxidems/server/internal/net"
	"github.com/oxidems/server/internal/net/packet"
	"go.uber.org/zap"
)

// HandleLoginStarted processes LOGIN_STARTED, sent once the client has shown
// its login screen. Nothing to answer.
func HandleLoginStarted(ctx context.Context, sess *net.Session, _ *packet.Packet, deps *Deps) error {
	sess.Log().Debug("client reached login screen", zap.String("ip", sess.IP))
	return nil
}

// HandlePong processes PONG, the keepalive answer.
func HandlePong(ctx context.Context, sess *net.Session, _ *packet.Packet, deps *Deps) error {
	sess.Log().Debug("pong")
	return nil
}

// HandleClientError processes CLIENT_ERROR and CLIENT_START_ERROR.
// Format: [string message?]
func HandleClientError(ctx context.Context, sess *net.Session, p *packet.Packet, deps *Deps) error {
	msg := ""
	if p.Remaining() > 0 {
		msg = p.ReadString()
	}
	sess.Log().Warn("client reported an error",
		zap.String("op", opName(p.Opcode())),
		zap.String("account", sess.AccountName),
		zap.String("message", msg))
	return nil
}

func opName(op uint16) string {
	if op == packet.C_CLIENT_START_ERROR {
		return "client_start_error"
	}
	return "client_error"
}
