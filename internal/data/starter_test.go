package data

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validChoice() StarterChoice {
	return StarterChoice{
		Weapon: 1302000, Top: 1040002, Bottom: 1060002, Shoes: 1072001,
		Hair: 30030, Face: 20000,
	}
}

func TestShippedStarterTable(t *testing.T) {
	tbl, err := LoadStarterTable(filepath.Join("..", "..", "data", "yaml", "starter_items.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 40, tbl.Count())
	assert.True(t, tbl.Allowed(validChoice()))
}

func TestStarterAllowed(t *testing.T) {
	tbl, err := LoadStarterTable(filepath.Join("..", "..", "data", "yaml", "starter_items.yaml"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		modify func(*StarterChoice)
	}{
		{"weapon", func(c *StarterChoice) { c.Weapon = 1302020 }},
		{"top", func(c *StarterChoice) { c.Top = 1 }},
		{"bottom", func(c *StarterChoice) { c.Bottom = 1040002 }},
		{"shoes", func(c *StarterChoice) { c.Shoes = 0 }},
		{"hair", func(c *StarterChoice) { c.Hair = 30031 }},
		{"face", func(c *StarterChoice) { c.Face = 29999 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validChoice()
			tt.modify(&c)
			assert.False(t, tbl.Allowed(c))
		})
	}
}

func TestParseStarterTableErrors(t *testing.T) {
	_, err := ParseStarterTable([]byte("weapons: [\n"))
	assert.Error(t, err)

	_, err = ParseStarterTable([]byte("weapons:\n  - { id: 1 }\n"))
	assert.ErrorContains(t, err, "tops list is empty")
}
