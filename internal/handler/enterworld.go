package handler

import (
	"context"
	"fmt"
	stdnet "net"

	"github.com/oxidems/server/internal/net"
	"github.com/oxidems/server/internal/net/packet"
	"github.com/oxidems/server/internal/persist"
	"go.uber.org/zap"
)

const (
	minPicLen = 6
	maxPicLen = 16
)

// HandleCharSelect processes CHAR_SELECT, sent when PIC is disabled.
// Format: [int character id][string macs][string hwid]
func HandleCharSelect(ctx context.Context, sess *net.Session, p *packet.Packet, deps *Deps) error {
	charID := p.ReadInt32()
	macs := p.ReadString()
	hwid := p.ReadString()
	if p.Err() != nil {
		return nil
	}
	if deps.Config.Login.EnablePic {
		sess.Log().Warn("character select skipped the pic", zap.String("account", sess.AccountName))
		sess.Close()
		return nil
	}
	return enterChannel(ctx, sess, charID, macs, hwid, deps)
}

// HandleCharSelectWithPic processes CHAR_SELECT_WITH_PIC.
// Format: [string pic][int character id][string macs][string hwid]
func HandleCharSelectWithPic(ctx context.Context, sess *net.Session, p *packet.Packet, deps *Deps) error {
	pic := p.ReadString()
	charID := p.ReadInt32()
	macs := p.ReadString()
	hwid := p.ReadString()
	if p.Err() != nil {
		return nil
	}
	if !deps.Config.Login.EnablePic || sess.Pic == "" {
		sess.Close()
		return nil
	}
	if pic != sess.Pic {
		if picFailed(sess, deps) {
			return nil
		}
		reply := packet.New(packet.S_CHECK_SPW_RESULT)
		reply.WriteUint8(0)
		return sess.Send(reply)
	}
	sess.PicAttempts = 0
	return enterChannel(ctx, sess, charID, macs, hwid, deps)
}

// HandleRegisterPic processes REGISTER_PIC, the first select on an account
// without a PIC. Format: [byte ?][int character id][string macs][string hwid][string pic]
func HandleRegisterPic(ctx context.Context, sess *net.Session, p *packet.Packet, deps *Deps) error {
	p.Skip(1)
	charID := p.ReadInt32()
	macs := p.ReadString()
	hwid := p.ReadString()
	pic := p.ReadString()
	if p.Err() != nil {
		return nil
	}
	if !deps.Config.Login.EnablePic || sess.Pic != "" {
		sess.Close()
		return nil
	}
	if len(pic) < minPicLen || len(pic) > maxPicLen {
		sess.Close()
		return nil
	}

	dctx, cancel := dbCtx(ctx)
	err := deps.Accounts.UpdatePic(dctx, sess.AccountID, pic)
	cancel()
	if err != nil {
		sess.Log().Error("update pic failed", zap.Error(err))
		sess.Close()
		return nil
	}
	sess.Pic = pic
	return enterChannel(ctx, sess, charID, macs, hwid, deps)
}

// enterChannel hands the client over to its channel server. The character
// must belong to the account and to the selected world.
func enterChannel(ctx context.Context, sess *net.Session, charID int32, macs, hwid string, deps *Deps) error {
	w := deps.Worlds.Get(sess.WorldID)
	if w == nil {
		sess.Close()
		return nil
	}
	ch := w.Channel(sess.ChannelID)
	if ch == nil {
		sess.Close()
		return nil
	}

	ctx, cancel := dbCtx(ctx)
	defer cancel()
	c, err := deps.Characters.Get(ctx, charID)
	if err != nil {
		sess.Log().Error("load character failed", zap.Int32("character", charID), zap.Error(err))
		sess.Close()
		return nil
	}
	if c == nil || c.AccountID != sess.AccountID || int(c.WorldID) != sess.WorldID {
		sess.Log().Warn("select of a character not owned by the account",
			zap.String("account", sess.AccountName), zap.Int32("character", charID))
		sess.Close()
		return nil
	}

	addr, err := channelAddr(ch.Host)
	if err != nil {
		sess.Log().Error("bad channel host", zap.String("host", ch.Host), zap.Error(err))
		sess.Close()
		return nil
	}

	if err := deps.Accounts.SetLoginState(ctx, sess.AccountID, persist.LoginStateTransitioning); err != nil {
		sess.Log().Error("set login state failed", zap.Error(err))
		sess.Close()
		return nil
	}
	sess.Log().Info("character selected",
		zap.String("account", sess.AccountName), zap.String("character", c.Name),
		zap.Int("world", sess.WorldID), zap.Int("channel", sess.ChannelID),
		zap.String("macs", macs), zap.String("hwid", hwid))

	reply := packet.New(packet.S_SERVER_IP)
	reply.WriteInt16(0)
	reply.WriteBytes(addr)
	reply.WriteUint16(uint16(ch.Port))
	reply.WriteInt32(charID)
	reply.WriteZero(5)
	return sess.Send(reply)
}

// channelAddr resolves host to the 4-byte IPv4 form the client expects.
func channelAddr(host string) ([]byte, error) {
	ip := stdnet.ParseIP(host)
	if ip == nil {
		ips, err := stdnet.LookupIP(host)
		if err != nil {
			return nil, err
		}
		for _, candidate := range ips {
			if candidate.To4() != nil {
				ip = candidate
				break
			}
		}
	}
	v4 := ip.To4()
	if v4 == nil {
		return nil, fmt.Errorf("no IPv4 address for %q", host)
	}
	return v4, nil
}
