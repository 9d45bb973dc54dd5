package rooms

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Room is a static chat context with its own AI persona directive.
// Rooms are configuration, not runtime state.
type Room struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Emoji       string `yaml:"emoji"`
	Color       string `yaml:"color"`
	Persona     string `yaml:"persona"`
}

// Directory is a read-only lookup of rooms by identifier,
// fixed for the process lifetime.
type Directory struct {
	byID  map[string]Room
	order []string
}

// NewDirectory builds a Directory from a room table.
func NewDirectory(table []Room) (*Directory, error) {
	d := &Directory{byID: make(map[string]Room, len(table))}
	for _, r := range table {
		if r.ID == "" {
			return nil, fmt.Errorf("room with empty id (name %q)", r.Name)
		}
		if r.Persona == "" {
			return nil, fmt.Errorf("room %q has no persona directive", r.ID)
		}
		if _, dup := d.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate room id %q", r.ID)
		}
		d.byID[r.ID] = r
		d.order = append(d.order, r.ID)
	}
	return d, nil
}

// LoadFile reads a YAML room table. An empty path returns the
// built-in default table.
func LoadFile(path string) (*Directory, error) {
	if path == "" {
		return NewDirectory(Defaults())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rooms file: %w", err)
	}
	var table []Room
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parsing rooms file %s: %w", path, err)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("rooms file %s defines no rooms", path)
	}
	return NewDirectory(table)
}

// Get returns the room with the given id.
func (d *Directory) Get(id string) (Room, bool) {
	r, ok := d.byID[id]
	return r, ok
}

// List returns all rooms in definition order.
func (d *Directory) List() []Room {
	out := make([]Room, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.byID[id])
	}
	return out
}

// Len returns the number of rooms.
func (d *Directory) Len() int {
	return len(d.byID)
}
