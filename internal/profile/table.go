package profile

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var builtin []byte

type file struct {
	Profiles []Profile `yaml:"profiles"`
}

// Table is the lookup from page host to profile. It is safe for
// concurrent use; Replace swaps the whole set at once.
type Table struct {
	mu       sync.RWMutex
	profiles []Profile
	onChange []func([]Profile)
}

// NewTable builds a table from the given profiles.
func NewTable(profiles ...Profile) *Table {
	t := &Table{}
	t.Replace(profiles)
	return t
}

// Builtin returns the embedded default profiles.
func Builtin() ([]Profile, error) {
	return Parse(builtin)
}

// Parse decodes a profile file.
func Parse(data []byte) ([]Profile, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	for i, p := range f.Profiles {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("profile %d: name is required", i)
		}
	}
	return f.Profiles, nil
}

// Load returns the builtin profiles with the user file at path merged on
// top. A missing user file is not an error.
func Load(path string) ([]Profile, error) {
	base, err := Builtin()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return base, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profiles %s: %w", path, err)
	}
	user, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return Merge(base, user), nil
}

// Merge replaces base entries by name and appends new ones, keeping base
// order.
func Merge(base, overlay []Profile) []Profile {
	out := make([]Profile, len(base))
	copy(out, base)
	idx := make(map[string]int, len(out))
	for i, p := range out {
		idx[p.Name] = i
	}
	for _, p := range overlay {
		if i, ok := idx[p.Name]; ok {
			out[i] = p
			continue
		}
		idx[p.Name] = len(out)
		out = append(out, p)
	}
	return out
}

// Replace swaps the profile set and notifies OnChange listeners.
func (t *Table) Replace(profiles []Profile) {
	cp := make([]Profile, len(profiles))
	copy(cp, profiles)
	t.mu.Lock()
	t.profiles = cp
	listeners := t.onChange
	t.mu.Unlock()
	for _, fn := range listeners {
		fn(t.All())
	}
}

// OnChange registers fn to run after every Replace.
func (t *Table) OnChange(fn func([]Profile)) {
	t.mu.Lock()
	t.onChange = append(t.onChange, fn)
	t.mu.Unlock()
}

// Lookup returns the first profile matching host.
func (t *Table) Lookup(host string) (Profile, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.profiles {
		if p.Matches(host) {
			return p, true
		}
	}
	return Profile{}, false
}

// ByName returns the profile with the given name.
func (t *Table) ByName(name string) (Profile, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.profiles {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Profile{}, false
}

// All returns a copy of every profile.
func (t *Table) All() []Profile {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Profile, len(t.profiles))
	copy(out, t.profiles)
	return out
}
