package category

import (
	"slices"
	"strings"
	"sync"
)

// Mapping links one native category to one canonical category.
type Mapping struct {
	NativeID    string `json:"nativeId"`
	CanonicalID int    `json:"canonicalId"`
	Description string `json:"description,omitempty"`
	Default     bool   `json:"default,omitempty"`
}

// Mapper translates between an indexer's native categories and canonical
// categories. Both one-to-many and many-to-one mappings are allowed.
type Mapper struct {
	mu       sync.RWMutex
	mappings []Mapping
}

// NewMapper creates an empty mapper.
func NewMapper() *Mapper {
	return &Mapper{}
}

// Add registers a native to canonical mapping. Mappings are consulted in insertion order.
func (m *Mapper) Add(nativeID string, canonicalID int, desc string) {
	m.AddMapping(Mapping{NativeID: nativeID, CanonicalID: canonicalID, Description: desc})
}

// AddMapping registers a mapping with all its attributes.
func (m *Mapper) AddMapping(mapping Mapping) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings = append(m.mappings, mapping)
}

// Mappings returns a copy of the registered mappings.
func (m *Mapper) Mappings() []Mapping {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.mappings)
}

// Len returns the number of registered mappings.
func (m *Mapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.mappings)
}

// ToCanonical returns the canonical categories for a native id. Unmapped ids
// fall into the Other bucket.
func (m *Mapper) ToCanonical(nativeID string) []int {
	nativeID = strings.TrimSpace(nativeID)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []int
	for _, mp := range m.mappings {
		if strings.EqualFold(mp.NativeID, nativeID) && !slices.Contains(out, mp.CanonicalID) {
			out = append(out, mp.CanonicalID)
		}
	}
	if len(out) == 0 {
		return []int{Other}
	}
	return out
}

// ToCanonicalByDesc resolves a native category by its description, as some
// sites only expose category names in result rows.
func (m *Mapper) ToCanonicalByDesc(desc string) []int {
	desc = strings.TrimSpace(desc)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []int
	for _, mp := range m.mappings {
		if mp.Description != "" && strings.EqualFold(mp.Description, desc) && !slices.Contains(out, mp.CanonicalID) {
			out = append(out, mp.CanonicalID)
		}
	}
	if len(out) == 0 {
		return []int{Other}
	}
	return out
}

// ToNative returns the native ids for a canonical category. A parent
// category also matches the mappings of all its subcategories.
func (m *Mapper) ToNative(canonicalID int) []string {
	return m.ToNativeAll([]int{canonicalID})
}

// ToNativeAll maps several canonical ids at once, without duplicates.
func (m *Mapper) ToNativeAll(canonicalIDs []int) []string {
	wanted := Expand(canonicalIDs)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for _, mp := range m.mappings {
		if slices.Contains(wanted, mp.CanonicalID) && !slices.Contains(out, mp.NativeID) {
			out = append(out, mp.NativeID)
		}
	}
	return out
}

// Defaults returns the native ids flagged as default search categories.
func (m *Mapper) Defaults() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for _, mp := range m.mappings {
		if mp.Default && !slices.Contains(out, mp.NativeID) {
			out = append(out, mp.NativeID)
		}
	}
	return out
}

// Categories returns the canonical categories this indexer can produce,
// with their parents, in tree order.
func (m *Mapper) Categories() []Category {
	m.mu.RLock()
	ids := make(map[int]bool, len(m.mappings))
	for _, mp := range m.mappings {
		ids[mp.CanonicalID] = true
		ids[Parent(mp.CanonicalID)] = true
	}
	m.mu.RUnlock()

	var out []Category
	for _, p := range Tree {
		if !ids[p.ID] {
			continue
		}
		c := Category{ID: p.ID, Name: p.Name}
		for _, s := range p.SubCategories {
			if ids[s.ID] {
				c.SubCategories = append(c.SubCategories, s)
			}
		}
		out = append(out, c)
	}
	return out
}

// Matches reports whether any release category satisfies the filter. An
// empty filter matches everything; a parent in the filter matches its subcategories.
func Matches(filter, releaseCats []int) bool {
	if len(filter) == 0 {
		return true
	}
	expanded := Expand(filter)
	for _, c := range releaseCats {
		if slices.Contains(expanded, c) {
			return true
		}
	}
	return false
}
