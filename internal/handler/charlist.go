package handler

import (
	"context"
	"fmt"

	"github.com/oxidems/server/internal/net"
	"github.com/oxidems/server/internal/net/packet"
	"github.com/oxidems/server/internal/persist"
	"github.com/oxidems/server/internal/world"
	"go.uber.org/zap"
)

// HandleServerList processes SERVERLIST_REQUEST and SERVERLIST_REREQUEST.
// Sends one entry per world, the end marker, the last connected world and
// the recommended world messages. Going back to world select frees the seat.
func HandleServerList(ctx context.Context, sess *net.Session, p *packet.Packet, deps *Deps) error {
	if !sess.PinVerified {
		return sendPinOperation(sess, pinEnter)
	}
	leaveWorld(sess, deps)

	for _, w := range deps.Worlds.All() {
		if err := sess.Send(buildWorldEntry(w, deps)); err != nil {
			return err
		}
	}

	end := packet.New(packet.S_SERVERLIST)
	end.WriteUint8(0xff)
	if err := sess.Send(end); err != nil {
		return err
	}

	if all := deps.Worlds.All(); len(all) > 0 {
		last := packet.New(packet.S_LAST_CONNECTED_WORLD)
		last.WriteInt32(int32(all[0].ID))
		if err := sess.Send(last); err != nil {
			return err
		}
	}
	return sess.Send(buildRecommendedWorlds(deps))
}

// buildWorldEntry: [byte id][string name][byte flag][string event message]
// [byte 100][byte 0][byte 100][byte 0][byte 0][byte channels]
// {[string name][int population][byte world][byte channel][bool adult]}
// [short 0]
func buildWorldEntry(w *world.World, deps *Deps) *packet.Packet {
	p := packet.New(packet.S_SERVERLIST)
	p.WriteUint8(uint8(w.ID))
	p.WriteString(deps.Charset.Encode(w.Name))
	p.WriteUint8(uint8(w.Flag))
	p.WriteString(deps.Charset.Encode(w.EventMessage))
	p.WriteUint8(100) // rate modifiers
	p.WriteUint8(0)
	p.WriteUint8(100)
	p.WriteUint8(0)
	p.WriteUint8(0)
	p.WriteUint8(uint8(len(w.Channels)))
	for _, ch := range w.Channels {
		p.WriteString(deps.Charset.Encode(fmt.Sprintf("%s-%d", w.Name, ch.ID+1)))
		p.WriteInt32(int32(ch.Population()))
		p.WriteUint8(uint8(w.ID))
		p.WriteUint8(uint8(ch.ID))
		p.WriteBool(false)
	}
	p.WriteInt16(0) // no balloon messages
	return p
}

// buildRecommendedWorlds: [byte count] then [int world][string message] each.
func buildRecommendedWorlds(deps *Deps) *packet.Packet {
	var recs []*world.World
	for _, w := range deps.Worlds.All() {
		if w.Recommended != "" {
			recs = append(recs, w)
		}
	}
	p := packet.New(packet.S_RECOMMENDED_WORLD_MESSAGE)
	p.WriteUint8(uint8(len(recs)))
	for _, w := range recs {
		p.WriteInt32(int32(w.ID))
		p.WriteString(deps.Charset.Encode(w.Recommended))
	}
	return p
}

// HandleServerStatus processes SERVERSTATUS_REQUEST. Format: [short world]
func HandleServerStatus(ctx context.Context, sess *net.Session, p *packet.Packet, deps *Deps) error {
	worldID := int(p.ReadInt16())
	if p.Err() != nil {
		return nil
	}
	status := world.Full
	if w := deps.Worlds.Get(worldID); w != nil {
		status = w.CapacityStatus()
	}
	return sendServerStatus(sess, status)
}

// sendServerStatus: [short status]
func sendServerStatus(sess *net.Session, status world.CapacityStatus) error {
	p := packet.New(packet.S_SERVERSTATUS)
	p.WriteUint16(uint16(status))
	return sess.Send(p)
}

// HandleCharList processes CHARLIST_REQUEST. Format: [byte ?][byte world][byte channel]
// An unknown world, unknown channel or full channel answers with status
// Full and leaves the session where it was.
func HandleCharList(ctx context.Context, sess *net.Session, p *packet.Packet, deps *Deps) error {
	p.Skip(1)
	worldID := int(p.ReadUint8())
	channelID := int(p.ReadUint8())
	if p.Err() != nil {
		return nil
	}
	if !sess.PinVerified {
		return sendPinOperation(sess, pinEnter)
	}

	w := deps.Worlds.Get(worldID)
	if w == nil || w.Channel(channelID) == nil {
		return sendServerStatus(sess, world.Full)
	}

	if sess.WorldID != worldID || sess.ChannelID != channelID {
		leaveWorld(sess, deps)
		if !deps.Worlds.Join(worldID, channelID) {
			return sendServerStatus(sess, world.Full)
		}
		sess.WorldID, sess.ChannelID = worldID, channelID
	}
	sess.SetState(packet.StateInWorld)

	ctx, cancel := dbCtx(ctx)
	defer cancel()
	chars, err := deps.Characters.ListByAccount(ctx, sess.AccountID, worldID)
	if err != nil {
		sess.Log().Error("list characters failed", zap.Error(err))
		return sendServerStatus(sess, world.Full)
	}
	sess.Log().Debug("character list",
		zap.Int("world", worldID), zap.Int("channel", channelID), zap.Int("characters", len(chars)))
	return sess.Send(buildCharList(sess, chars, deps))
}

func leaveWorld(sess *net.Session, deps *Deps) {
	if sess.HasWorld() {
		deps.Worlds.Leave(sess.WorldID, sess.ChannelID)
		sess.WorldID, sess.ChannelID = net.NoSelection, net.NoSelection
	}
	if sess.State() == packet.StateInWorld {
		sess.SetState(packet.StateLoggedIn)
	}
}

// buildCharList: [byte 0][byte count][entries...][byte pic flag][int slots]
func buildCharList(sess *net.Session, chars []persist.CharacterRow, deps *Deps) *packet.Packet {
	p := packet.New(packet.S_CHARLIST)
	p.WriteUint8(0)
	p.WriteUint8(uint8(len(chars)))
	for i := range chars {
		writeCharEntry(p, &chars[i], sess.GM, deps)
	}
	p.WriteUint8(picFlag(sess, deps))
	p.WriteInt32(int32(sess.Slots))
	return p
}

// Equip slot bytes in the character look.
const (
	slotTop    byte = 5
	slotBottom byte = 6
	slotShoes  byte = 7
	slotWeapon byte = 11
)

// writeCharEntry: stats, look, view-all flag, then the ranking block.
// GM accounts and the 8xx/9xx job branches have no ranking.
func writeCharEntry(p *packet.Packet, c *persist.CharacterRow, gm bool, deps *Deps) {
	writeCharStats(p, c, deps)
	writeCharLook(p, c)
	p.WriteUint8(0) // not view-all

	jobNiche := (c.Job / 100) % 10
	if gm || jobNiche == 8 || jobNiche == 9 {
		p.WriteUint8(0)
		return
	}
	p.WriteUint8(1) // ranking shown
	p.WriteInt32(0) // world rank
	p.WriteInt32(0) // rank move
	p.WriteInt32(0) // job rank
	p.WriteInt32(0) // job rank move
}

func writeCharStats(p *packet.Packet, c *persist.CharacterRow, deps *Deps) {
	p.WriteInt32(c.ID)
	p.WritePaddedString(deps.Charset.Encode(c.Name), 13)
	p.WriteUint8(uint8(c.Gender))
	p.WriteUint8(uint8(c.Skin))
	p.WriteInt32(c.Face)
	p.WriteInt32(c.Hair)
	for i := 0; i < 3; i++ {
		p.WriteInt64(0) // pet
	}
	p.WriteUint8(uint8(c.Level))
	p.WriteInt16(c.Job)
	p.WriteInt16(c.Str)
	p.WriteInt16(c.Dex)
	p.WriteInt16(c.Int)
	p.WriteInt16(c.Luk)
	p.WriteInt16(c.HP)
	p.WriteInt16(c.MaxHP)
	p.WriteInt16(c.MP)
	p.WriteInt16(c.MaxMP)
	p.WriteInt16(c.AP)
	p.WriteInt16(c.SP)
	p.WriteInt32(c.Exp)
	p.WriteInt16(c.Fame)
	p.WriteInt32(0) // gacha exp
	p.WriteInt32(c.Map)
	p.WriteUint8(uint8(c.SpawnPoint))
	p.WriteInt32(0)
}

func writeCharLook(p *packet.Packet, c *persist.CharacterRow) {
	p.WriteUint8(uint8(c.Gender))
	p.WriteUint8(uint8(c.Skin))
	p.WriteInt32(c.Face)
	p.WriteUint8(1) // not a megaphone avatar
	p.WriteInt32(c.Hair)

	equips := []struct {
		slot byte
		id   int32
	}{
		{slotTop, c.Top},
		{slotBottom, c.Bottom},
		{slotShoes, c.Shoes},
		{slotWeapon, c.Weapon},
	}
	for _, e := range equips {
		if e.id == 0 {
			continue
		}
		p.WriteUint8(e.slot)
		p.WriteInt32(e.id)
	}
	p.WriteUint8(0xff) // end of equips
	p.WriteUint8(0xff) // end of masked equips
	p.WriteInt32(0)    // cash weapon
	for i := 0; i < 3; i++ {
		p.WriteInt32(0) // pet
	}
}
