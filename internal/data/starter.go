package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StarterEntry is one allowed starting item or style id.
type StarterEntry struct {
	ID   int32  `yaml:"id"`
	Note string `yaml:"note"`
}

type starterFile struct {
	Weapons []StarterEntry `yaml:"weapons"`
	Tops    []StarterEntry `yaml:"tops"`
	Bottoms []StarterEntry `yaml:"bottoms"`
	Shoes   []StarterEntry `yaml:"shoes"`
	Hair    []StarterEntry `yaml:"hair"`
	Faces   []StarterEntry `yaml:"faces"`
}

// StarterTable holds the equipment and style ids a new character may pick.
// Anything else in a create request came from an edited packet.
// Read-only after load.
type StarterTable struct {
	weapons map[int32]struct{}
	tops    map[int32]struct{}
	bottoms map[int32]struct{}
	shoes   map[int32]struct{}
	hair    map[int32]struct{}
	faces   map[int32]struct{}
}

// LoadStarterTable loads starter_items.yaml.
func LoadStarterTable(path string) (*StarterTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read starter items: %w", err)
	}
	return ParseStarterTable(raw)
}

// ParseStarterTable builds a table from YAML. Every list must be non-empty.
func ParseStarterTable(raw []byte) (*StarterTable, error) {
	var f starterFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse starter items: %w", err)
	}
	lists := []struct {
		name    string
		entries []StarterEntry
	}{
		{"weapons", f.Weapons},
		{"tops", f.Tops},
		{"bottoms", f.Bottoms},
		{"shoes", f.Shoes},
		{"hair", f.Hair},
		{"faces", f.Faces},
	}
	sets := make([]map[int32]struct{}, len(lists))
	for i, l := range lists {
		if len(l.entries) == 0 {
			return nil, fmt.Errorf("starter items: %s list is empty", l.name)
		}
		sets[i] = toSet(l.entries)
	}
	return &StarterTable{
		weapons: sets[0],
		tops:    sets[1],
		bottoms: sets[2],
		shoes:   sets[3],
		hair:    sets[4],
		faces:   sets[5],
	}, nil
}

func toSet(entries []StarterEntry) map[int32]struct{} {
	m := make(map[int32]struct{}, len(entries))
	for _, e := range entries {
		m[e.ID] = struct{}{}
	}
	return m
}

// StarterChoice is what the client picked on the creation screen.
type StarterChoice struct {
	Weapon, Top, Bottom, Shoes int32
	Hair, Face                 int32
}

// Allowed reports whether every pick is on its list. Hair is checked without
// the colour offset the client adds separately.
func (t *StarterTable) Allowed(c StarterChoice) bool {
	return has(t.weapons, c.Weapon) &&
		has(t.tops, c.Top) &&
		has(t.bottoms, c.Bottom) &&
		has(t.shoes, c.Shoes) &&
		has(t.hair, c.Hair) &&
		has(t.faces, c.Face)
}

func has(m map[int32]struct{}, id int32) bool {
	_, ok := m[id]
	return ok
}

// Count returns the total number of allowed ids.
func (t *StarterTable) Count() int {
	return len(t.weapons) + len(t.tops) + len(t.bottoms) + len(t.shoes) + len(t.hair) + len(t.faces)
}
