package handler

import (
	"context"

	"github.com/oxidems/server/internal/net"
	"github.com/oxidems/server/internal/net/packet"
	"go.uber.org/zap"
)

// DELETE_CHAR_RESPONSE states.
const (
	deleteOK         byte = 0x00
	deleteFailed     byte = 0x09
	deleteInvalidPic byte = 0x14
)

// HandleDeleteChar processes DELETE_CHAR. Format: [string pic][int character id]
func HandleDeleteChar(ctx context.Context, sess *net.Session, p *packet.Packet, deps *Deps) error {
	pic := p.ReadString()
	charID := p.ReadInt32()
	if p.Err() != nil {
		return nil
	}

	if deps.Config.Login.EnablePic && (sess.Pic == "" || pic != sess.Pic) {
		if picFailed(sess, deps) {
			return nil
		}
		return sendDeleteResponse(sess, charID, deleteInvalidPic)
	}
	sess.PicAttempts = 0

	ctx, cancel := dbCtx(ctx)
	defer cancel()
	deleted, err := deps.Characters.Delete(ctx, sess.AccountID, charID)
	if err != nil {
		sess.Log().Error("delete character failed", zap.Int32("character", charID), zap.Error(err))
		return sendDeleteResponse(sess, charID, deleteFailed)
	}
	if !deleted {
		sess.Log().Warn("delete of a character not owned by the account",
			zap.String("account", sess.AccountName), zap.Int32("character", charID))
		return sendDeleteResponse(sess, charID, deleteFailed)
	}
	sess.Log().Info("character deleted", zap.String("account", sess.AccountName), zap.Int32("character", charID))
	return sendDeleteResponse(sess, charID, deleteOK)
}

// sendDeleteResponse: [int character id][byte state]
func sendDeleteResponse(sess *net.Session, charID int32, state byte) error {
	p := packet.New(packet.S_DELETE_CHAR_RESPONSE)
	p.WriteInt32(charID)
	p.WriteUint8(state)
	return sess.Send(p)
}

// picFailed counts a wrong PIC and closes the session once the limit is
// reached. It reports whether the session was closed.
func picFailed(sess *net.Session, deps *Deps) bool {
	sess.PicAttempts++
	if limit := deps.Config.Login.MaxPicAttempts; limit > 0 && sess.PicAttempts >= limit {
		sess.Log().Warn("too many pic attempts", zap.String("account", sess.AccountName))
		sess.Close()
		return true
	}
	return false
}
