package handler

import (
	"context"

	"github.com/oxidems/server/internal/net"
	"github.com/oxidems/server/internal/net/packet"
	"github.com/oxidems/server/internal/persist"
	"go.uber.org/zap"
)

// CHECK_PINCODE modes.
const (
	pinAccepted    byte = 0
	pinRegisterNew byte = 1
	pinInvalid     byte = 2
	pinEnter       byte = 4
)

// HandleAfterLogin processes AFTER_LOGIN, the PIN dialog.
// Format: [byte step][byte action?][string pin?]
//
//	1,1  client wants to start: ask for or register a PIN
//	1,0  PIN entered for login
//	2,0  PIN entered before changing it
//	0,5  dialog cancelled
func HandleAfterLogin(ctx context.Context, sess *net.Session, p *packet.Packet, deps *Deps) error {
	step := p.ReadUint8()
	action := byte(5)
	if p.Remaining() > 0 {
		action = p.ReadUint8()
	}
	if p.Err() != nil {
		return nil
	}

	if !deps.Config.Login.EnablePin {
		sess.PinVerified = true
		return sendPinOperation(sess, pinAccepted)
	}

	switch {
	case step == 1 && action == 1:
		if sess.Pin == "" {
			return sendPinOperation(sess, pinRegisterNew)
		}
		return sendPinOperation(sess, pinEnter)

	case (step == 1 || step == 2) && action == 0:
		pin := p.ReadString()
		if p.Err() != nil {
			return nil
		}
		if pin != sess.Pin {
			return pinFailed(sess, deps)
		}
		sess.PinAttempts = 0
		sess.PinVerified = true
		if step == 1 {
			return sendPinOperation(sess, pinAccepted)
		}
		return sendPinOperation(sess, pinRegisterNew)

	case step == 0 && action == 5:
		sess.Log().Debug("pin dialog cancelled")
		return logoutToLogin(ctx, sess, deps)
	}
	return nil
}

// HandleRegisterPin processes REGISTER_PIN. Format: [byte ok][string pin]
func HandleRegisterPin(ctx context.Context, sess *net.Session, p *packet.Packet, deps *Deps) error {
	ok := p.ReadUint8()
	if p.Err() != nil {
		return nil
	}
	if ok == 0 {
		return logoutToLogin(ctx, sess, deps)
	}

	pin := p.ReadString()
	if p.Err() != nil {
		return nil
	}
	if !validPin(pin) {
		sess.Close()
		return nil
	}
	// Changing an existing PIN requires having entered it this session.
	if sess.Pin != "" && !sess.PinVerified {
		sess.Close()
		return nil
	}

	ctx, cancel := dbCtx(ctx)
	defer cancel()
	if err := deps.Accounts.UpdatePin(ctx, sess.AccountID, pin); err != nil {
		sess.Log().Error("update pin failed", zap.Error(err))
		return sendPinOperation(sess, pinInvalid)
	}
	sess.Pin = pin
	sess.PinVerified = true

	reply := packet.New(packet.S_UPDATE_PINCODE)
	reply.WriteUint8(0)
	return sess.Send(reply)
}

func pinFailed(sess *net.Session, deps *Deps) error {
	sess.PinAttempts++
	if limit := deps.Config.Login.MaxPinAttempts; limit > 0 && sess.PinAttempts >= limit {
		sess.Log().Warn("too many pin attempts", zap.String("account", sess.AccountName))
		sess.Close()
		return nil
	}
	return sendPinOperation(sess, pinInvalid)
}

func validPin(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}

// logoutToLogin returns the client to the login screen on the same connection.
func logoutToLogin(ctx context.Context, sess *net.Session, deps *Deps) error {
	ctx, cancel := dbCtx(ctx)
	defer cancel()
	if err := deps.Accounts.SetLoginState(ctx, sess.AccountID, persist.LoginStateLoggedOut); err != nil {
		sess.Log().Error("reset login state failed", zap.Error(err))
	}
	sess.AccountID = 0
	sess.AccountName = ""
	sess.PinVerified = false
	sess.SetState(packet.StateLoggedOut)
	return nil
}

// sendPinOperation: [byte mode]
func sendPinOperation(sess *net.Session, mode byte) error {
	p := packet.New(packet.S_CHECK_PINCODE)
	p.WriteUint8(mode)
	return sess.Send(p)
}
