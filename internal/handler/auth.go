package handler

import (
	"context"

	"github.com/oxidems/server/internal/net"
	"github.com/oxidems/server/internal/net/packet"
	"github.com/oxidems/server/internal/persist"
	"go.uber.org/zap"
)

// Login failure reasons shown by the client.
const (
	loginBanned         byte = 3
	loginWrongPassword  byte = 4
	loginNotRegistered  byte = 5
	loginSystemError    byte = 6
	loginAlreadyOnline  byte = 7
	loginAcceptTOSFirst byte = 23
)

// PIN/PIC flags in the auth success packet.
const (
	pinEnabled  byte = 0
	pinDisabled byte = 1

	picRegister byte = 0
	picAsk      byte = 1
	picDisabled byte = 2
)

// HandleLogin processes LOGIN_PASSWORD.
// Format: [string name][string password][6 bytes][4 bytes hwid]
func HandleLogin(ctx context.Context, sess *net.Session, p *packet.Packet, deps *Deps) error {
	name := deps.Charset.Decode(p.ReadString())
	password := p.ReadString()
	p.Skip(6)
	hwid := p.ReadBytes(4)
	if p.Err() != nil {
		return nil
	}

	sess.LoginAttempts++
	if limit := deps.Config.Login.MaxLoginAttempts; limit > 0 && sess.LoginAttempts > limit {
		sess.Log().Warn("too many login attempts", zap.String("account", name))
		sess.Close()
		return nil
	}
	sess.Log().Debug("login attempt", zap.String("account", name), zap.Binary("hwid", hwid))

	ctx, cancel := dbCtx(ctx)
	defer cancel()

	account, err := deps.Accounts.Load(ctx, name)
	if err != nil {
		sess.Log().Error("load account failed", zap.String("account", name), zap.Error(err))
		return sendLoginFailed(sess, loginSystemError)
	}

	if account == nil {
		if !deps.Config.Login.AutoRegister {
			return sendLoginFailed(sess, loginNotRegistered)
		}
		if len(name) < 4 || len(name) > 12 || len(password) < 4 {
			return sendLoginFailed(sess, loginNotRegistered)
		}
		account, err = deps.Accounts.Create(ctx, name, password, int16(deps.Config.Login.CharacterSlots))
		if err != nil {
			sess.Log().Error("auto register failed", zap.String("account", name), zap.Error(err))
			return sendLoginFailed(sess, loginSystemError)
		}
		sess.Log().Info("account registered", zap.String("account", name))
	} else if !deps.Accounts.ValidatePassword(account.PasswordHash, password) {
		return sendLoginFailed(sess, loginWrongPassword)
	}

	if account.Banned {
		sess.Log().Info("banned account tried to log in", zap.String("account", name))
		return sendLoginFailed(sess, loginBanned)
	}
	if account.LoginState != persist.LoginStateLoggedOut {
		return sendLoginFailed(sess, loginAlreadyOnline)
	}

	// Claimed from here on: the disconnect hook resets this account.
	bindAccount(sess, account)

	if !account.AcceptedTOS {
		return sendLoginFailed(sess, loginAcceptTOSFirst)
	}
	if account.Gender == persist.GenderUnset {
		// The client asks for a gender, then sends SET_GENDER.
		return sess.Send(buildAuthSuccess(sess, deps))
	}
	return loginSuccess(ctx, sess, deps)
}

// HandleAcceptTOS processes ACCEPT_TOS. Format: [byte accepted]
func HandleAcceptTOS(ctx context.Context, sess *net.Session, p *packet.Packet, deps *Deps) error {
	accepted := p.ReadUint8()
	if p.Err() != nil {
		return nil
	}
	if accepted != 1 {
		sess.Log().Info("terms of service declined", zap.String("account", sess.AccountName))
		return nil
	}
	if sess.AccountID == 0 {
		sess.Log().Warn("terms of service accepted without a pending login")
		return nil
	}

	ctx, cancel := dbCtx(ctx)
	defer cancel()
	if err := deps.Accounts.AcceptTOS(ctx, sess.AccountID); err != nil {
		sess.Log().Error("accept tos failed", zap.Error(err))
		return sendLoginFailed(sess, loginSystemError)
	}
	return loginSuccess(ctx, sess, deps)
}

// HandleSetGender processes SET_GENDER. Format: [byte confirm][byte gender]
func HandleSetGender(ctx context.Context, sess *net.Session, p *packet.Packet, deps *Deps) error {
	confirm := p.ReadUint8()
	if confirm != 1 {
		return nil
	}
	gender := p.ReadUint8()
	if p.Err() != nil {
		return nil
	}
	if sess.AccountID == 0 || sess.Gender != persist.GenderUnset || gender > 1 {
		sess.Close()
		return nil
	}

	ctx, cancel := dbCtx(ctx)
	defer cancel()
	if err := deps.Accounts.UpdateGender(ctx, sess.AccountID, int16(gender)); err != nil {
		sess.Log().Error("update gender failed", zap.Error(err))
		return sendLoginFailed(sess, loginSystemError)
	}
	sess.Gender = gender
	return loginSuccess(ctx, sess, deps)
}

func bindAccount(sess *net.Session, account *persist.AccountRow) {
	sess.AccountID = account.ID
	sess.AccountName = account.Name
	sess.Gender = byte(account.Gender)
	sess.GM = account.GM
	sess.Pin = account.Pin
	sess.Pic = account.Pic
	sess.Slots = int(account.CharacterSlots)
}

// loginSuccess marks the account online and moves the session to world select.
func loginSuccess(ctx context.Context, sess *net.Session, deps *Deps) error {
	if err := deps.Accounts.SetLoginState(ctx, sess.AccountID, persist.LoginStateLoggedIn); err != nil {
		sess.Log().Error("set login state failed", zap.Error(err))
		return sendLoginFailed(sess, loginSystemError)
	}
	sess.PinVerified = !deps.Config.Login.EnablePin
	sess.SetState(packet.StateLoggedIn)
	sess.Log().Info("login ok", zap.String("account", sess.AccountName), zap.String("ip", sess.IP))
	return sess.Send(buildAuthSuccess(sess, deps))
}

// buildAuthSuccess: [int 0][short 0][int account id][byte gender][bool gm]
// [byte 0][byte 0][string name][byte 0][byte quiet ban][long 0][long 0]
// [int 1][byte pin flag][byte pic flag]
func buildAuthSuccess(sess *net.Session, deps *Deps) *packet.Packet {
	p := packet.New(packet.S_LOGIN_STATUS)
	p.WriteInt32(0)
	p.WriteInt16(0)
	p.WriteInt32(sess.AccountID)
	p.WriteUint8(sess.Gender)
	p.WriteBool(sess.GM)
	p.WriteUint8(0) // admin flags
	p.WriteUint8(0) // country code
	p.WriteString(deps.Charset.Encode(sess.AccountName))
	p.WriteUint8(0)
	p.WriteUint8(0) // quiet ban
	p.WriteInt64(0) // quiet ban time
	p.WriteInt64(0) // creation time
	p.WriteInt32(1) // skip the "select a world" hint
	if deps.Config.Login.EnablePin {
		p.WriteUint8(pinEnabled)
	} else {
		p.WriteUint8(pinDisabled)
	}
	p.WriteUint8(picFlag(sess, deps))
	return p
}

func picFlag(sess *net.Session, deps *Deps) byte {
	switch {
	case !deps.Config.Login.EnablePic:
		return picDisabled
	case sess.Pic == "":
		return picRegister
	default:
		return picAsk
	}
}

// sendLoginFailed: [byte reason][byte 0][int 0]
func sendLoginFailed(sess *net.Session, reason byte) error {
	p := packet.New(packet.S_LOGIN_STATUS)
	p.WriteUint8(reason)
	p.WriteUint8(0)
	p.WriteInt32(0)
	return sess.Send(p)
}
