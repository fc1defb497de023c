package handler

import (
	"context"

	"github.com/oxidems/server/internal/data"
	"github.com/oxidems/server/internal/net"
	"github.com/oxidems/server/internal/net/packet"
	"github.com/oxidems/server/internal/persist"
	"go.uber.org/zap"
)

const (
	minNameLen = 4
	maxNameLen = 12
)

// validCharName accepts 4-12 ASCII letters and digits.
func validCharName(name string) bool {
	if len(name) < minNameLen || len(name) > maxNameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// nameAvailable reports whether name can be used for a new character.
// Lookup errors count as taken.
func nameAvailable(ctx context.Context, sess *net.Session, name string, deps *Deps) bool {
	if !validCharName(name) {
		return false
	}
	ctx, cancel := dbCtx(ctx)
	defer cancel()
	taken, err := deps.Characters.NameExists(ctx, name)
	if err != nil {
		sess.Log().Error("name lookup failed", zap.String("name", name), zap.Error(err))
		return false
	}
	return !taken
}

// HandleCheckCharName processes CHECK_CHAR_NAME. Format: [string name]
func HandleCheckCharName(ctx context.Context, sess *net.Session, p *packet.Packet, deps *Deps) error {
	raw := p.ReadString()
	if p.Err() != nil {
		return nil
	}
	name := deps.Charset.Decode(raw)

	reply := packet.New(packet.S_CHAR_NAME_RESPONSE)
	reply.WriteString(raw)
	reply.WriteBool(!nameAvailable(ctx, sess, name, deps))
	return sess.Send(reply)
}

// HandleCreateChar processes CREATE_CHAR.
// Format: [string name][int job][int face][int hair][int hair colour]
// [int skin][int top][int bottom][int shoes][int weapon][byte gender]
func HandleCreateChar(ctx context.Context, sess *net.Session, p *packet.Packet, deps *Deps) error {
	name := deps.Charset.Decode(p.ReadString())
	job := p.ReadInt32()
	face := p.ReadInt32()
	hair := p.ReadInt32()
	hairColor := p.ReadInt32()
	skin := p.ReadInt32()
	top := p.ReadInt32()
	bottom := p.ReadInt32()
	shoes := p.ReadInt32()
	weapon := p.ReadInt32()
	gender := p.ReadUint8()
	if p.Err() != nil {
		return nil
	}

	choice := data.StarterChoice{Weapon: weapon, Top: top, Bottom: bottom, Shoes: shoes, Hair: hair, Face: face}
	if !deps.Starter.Allowed(choice) || gender > 1 || skin < 0 || skin > 9 || hairColor < 0 || hairColor > 7 {
		sess.Log().Warn("character creation with items outside the starter set",
			zap.String("account", sess.AccountName),
			zap.Int32("weapon", weapon), zap.Int32("top", top), zap.Int32("bottom", bottom),
			zap.Int32("shoes", shoes), zap.Int32("hair", hair), zap.Int32("face", face))
		sess.Close()
		return nil
	}

	if !nameAvailable(ctx, sess, name, deps) {
		return sendCreateFailed(sess)
	}

	ctx, cancel := dbCtx(ctx)
	defer cancel()
	count, err := deps.Characters.Count(ctx, sess.AccountID, sess.WorldID)
	if err != nil {
		sess.Log().Error("count characters failed", zap.Error(err))
		return sendCreateFailed(sess)
	}
	if count >= sess.Slots {
		sess.Log().Info("no free character slot", zap.String("account", sess.AccountName), zap.Int("slots", sess.Slots))
		return sendCreateFailed(sess)
	}

	start := deps.Factory.NewCharacter(int(job))
	row := &persist.CharacterRow{
		AccountID:  sess.AccountID,
		WorldID:    int16(sess.WorldID),
		Name:       name,
		Level:      1,
		Job:        int16(start.Job),
		Str:        int16(start.Str),
		Dex:        int16(start.Dex),
		Int:        int16(start.Int),
		Luk:        int16(start.Luk),
		HP:         int16(start.HP),
		MaxHP:      int16(start.HP),
		MP:         int16(start.MP),
		MaxMP:      int16(start.MP),
		AP:         int16(start.AP),
		Meso:       int32(start.Meso),
		Map:        int32(start.Map),
		SpawnPoint: int16(start.SpawnPoint),
		Gender:     int16(gender),
		Skin:       int16(skin),
		Hair:       hair + hairColor,
		Face:       face,
		Top:        top,
		Bottom:     bottom,
		Shoes:      shoes,
		Weapon:     weapon,
	}
	items := make([]int32, 0, len(start.Items))
	for _, id := range start.Items {
		items = append(items, int32(id))
	}

	if err := deps.Characters.Create(ctx, row, items); err != nil {
		sess.Log().Error("create character failed", zap.String("name", name), zap.Error(err))
		return sendCreateFailed(sess)
	}
	sess.Log().Info("character created",
		zap.String("account", sess.AccountName), zap.String("name", name),
		zap.Int32("id", row.ID), zap.Int16("job", row.Job))

	reply := packet.New(packet.S_ADD_NEW_CHAR_ENTRY)
	reply.WriteUint8(0)
	writeCharEntry(reply, row, sess.GM, deps)
	return sess.Send(reply)
}

// sendCreateFailed: [byte 1]
func sendCreateFailed(sess *net.Session) error {
	p := packet.New(packet.S_ADD_NEW_CHAR_ENTRY)
	p.WriteUint8(1)
	return sess.Send(p)
}
