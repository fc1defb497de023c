package world

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/oxidems/server/internal/config"
)

// CapacityStatus is the population indicator shown on the world select screen.
type CapacityStatus uint16

const (
	Normal          CapacityStatus = 0
	HighlyPopulated CapacityStatus = 1
	Full            CapacityStatus = 2
)

func (s CapacityStatus) String() string {
	switch s {
	case Normal:
		return "normal"
	case HighlyPopulated:
		return "highly_populated"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(s))
	}
}

// Channel is one channel server of a world. Population is shared by every
// session goroutine and only touched through atomics.
type Channel struct {
	ID       int
	WorldID  int
	Host     string
	Port     int
	Capacity int

	population atomic.Int32
}

func (c *Channel) Population() int {
	return int(c.population.Load())
}

// World is an immutable world definition plus its channels.
type World struct {
	ID           int
	Name         string
	Flag         int
	EventMessage string
	Recommended  string
	ExpRate      int
	DropRate     int
	MesoRate     int
	Channels     []*Channel
}

// Population sums the channel populations.
func (w *World) Population() int {
	n := 0
	for _, ch := range w.Channels {
		n += ch.Population()
	}
	return n
}

// Capacity is the combined capacity of every channel.
func (w *World) Capacity() int {
	n := 0
	for _, ch := range w.Channels {
		n += ch.Capacity
	}
	return n
}

// CapacityStatus reports Full at capacity and HighlyPopulated from 80%.
func (w *World) CapacityStatus() CapacityStatus {
	limit := w.Capacity()
	pop := w.Population()
	switch {
	case pop >= limit:
		return Full
	case pop >= limit*8/10:
		return HighlyPopulated
	default:
		return Normal
	}
}

// Channel returns the channel with the given index, or nil.
func (w *World) Channel(id int) *Channel {
	if id < 0 || id >= len(w.Channels) {
		return nil
	}
	return w.Channels[id]
}

// Table holds every configured world, ordered by id. Built once at startup;
// only channel populations change afterwards.
type Table struct {
	worlds []*World
	byID   map[int]*World
}

func NewTable(cfgs []config.WorldConfig) *Table {
	t := &Table{byID: make(map[int]*World, len(cfgs))}
	for _, wc := range cfgs {
		w := &World{
			ID:           wc.ID,
			Name:         wc.Name,
			Flag:         wc.Flag,
			EventMessage: wc.EventMessage,
			Recommended:  wc.Recommended,
			ExpRate:      wc.ExpRate,
			DropRate:     wc.DropRate,
			MesoRate:     wc.MesoRate,
		}
		for i := 0; i < wc.Channels; i++ {
			w.Channels = append(w.Channels, &Channel{
				ID:       i,
				WorldID:  wc.ID,
				Host:     wc.ChannelHost,
				Port:     wc.ChannelBasePort + i,
				Capacity: wc.ChannelCapacity,
			})
		}
		t.worlds = append(t.worlds, w)
		t.byID[w.ID] = w
	}
	sort.Slice(t.worlds, func(i, j int) bool { return t.worlds[i].ID < t.worlds[j].ID })
	return t
}

// Get returns the world with the given id, or nil.
func (t *Table) Get(id int) *World {
	return t.byID[id]
}

// All returns the worlds ordered by id.
func (t *Table) All() []*World {
	return t.worlds
}

// Join counts one session into a channel. It fails when the world or channel
// does not exist or the channel is full. A channel without capacity is
// always full.
func (t *Table) Join(worldID, channelID int) bool {
	w := t.Get(worldID)
	if w == nil {
		return false
	}
	ch := w.Channel(channelID)
	if ch == nil {
		return false
	}
	for {
		n := ch.population.Load()
		if int(n) >= ch.Capacity {
			return false
		}
		if ch.population.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Leave undoes a Join. Unknown ids are ignored.
func (t *Table) Leave(worldID, channelID int) {
	w := t.Get(worldID)
	if w == nil {
		return
	}
	ch := w.Channel(channelID)
	if ch == nil {
		return
	}
	for {
		n := ch.population.Load()
		if n <= 0 || ch.population.CompareAndSwap(n, n-1) {
			return
		}
	}
}
