package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM. An LState is not goroutine safe and
// every session goroutine may call in, so calls are serialised by mu.
type Engine struct {
	mu  sync.Mutex
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given directory.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	for _, sub := range []string{"core", "character"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}
	return e, nil
}

// NewEngineFromString loads a single chunk; used by tests and tooling.
func NewEngineFromString(src string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState()
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	if err := vm.DoString(src); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load script: %w", err)
	}
	return &Engine{vm: vm, log: log}, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// Creation job selector sent by the v83 create-character packet.
const (
	CreateCygnus     = 0
	CreateAdventurer = 1
	CreateAran       = 2
)

// NewCharacterData is the starting state for a freshly created character.
type NewCharacterData struct {
	Job        int
	Map        int
	SpawnPoint int
	Str        int
	Dex        int
	Int        int
	Luk        int
	HP         int
	MP         int
	AP         int
	Meso       int
	Items      []int // item ids granted to the etc inventory
}

// DefaultNewCharacter is used when no script defines new_character.
func DefaultNewCharacter(createJob int) NewCharacterData {
	d := NewCharacterData{
		Str: 12, Dex: 5, Int: 4, Luk: 4,
		HP: 50, MP: 5,
	}
	switch createJob {
	case CreateCygnus:
		d.Job, d.Map, d.Items = 1000, 130030000, []int{4161047}
	case CreateAran:
		d.Job, d.Map, d.Items = 2000, 914000000, []int{4161048}
	default:
		d.Job, d.Map, d.Items = 0, 10000, []int{4161001}
	}
	return d
}

// NewCharacter calls Lua new_character(create_job) and overlays the returned
// table on the defaults.
func (e *Engine) NewCharacter(createJob int) NewCharacterData {
	d := DefaultNewCharacter(createJob)

	e.mu.Lock()
	defer e.mu.Unlock()

	fn := e.vm.GetGlobal("new_character")
	if fn == lua.LNil {
		return d
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LNumber(createJob)); err != nil {
		e.log.Error("lua new_character error", zap.Error(err))
		return d
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		e.log.Error("lua new_character returned non-table")
		return d
	}

	overlayInt(rt, "job", &d.Job)
	overlayInt(rt, "map", &d.Map)
	overlayInt(rt, "spawn_point", &d.SpawnPoint)
	overlayInt(rt, "str", &d.Str)
	overlayInt(rt, "dex", &d.Dex)
	overlayInt(rt, "int", &d.Int)
	overlayInt(rt, "luk", &d.Luk)
	overlayInt(rt, "hp", &d.HP)
	overlayInt(rt, "mp", &d.MP)
	overlayInt(rt, "ap", &d.AP)
	overlayInt(rt, "meso", &d.Meso)

	if itemsTbl, ok := rt.RawGetString("items").(*lua.LTable); ok {
		d.Items = d.Items[:0:0]
		itemsTbl.ForEach(func(_, v lua.LValue) {
			d.Items = append(d.Items, int(lua.LVAsNumber(v)))
		})
	}
	return d
}

// overlayInt copies a numeric field when the table sets it.
func overlayInt(t *lua.LTable, key string, dst *int) {
	if n, ok := t.RawGetString(key).(lua.LNumber); ok {
		*dst = int(n)
	}
}

// Close releases the Lua VM.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
}
