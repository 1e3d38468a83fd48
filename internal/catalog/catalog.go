package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Catalog is an immutable, validated alias catalog. Build one with Load or
// Parse; concurrent lookups are safe because nothing mutates after that.
type Catalog struct {
	entries []*Entry

	// index maps each normalized alias to every entry claiming it
	// (cross-category duplicates are legal).
	index map[string][]*Entry
}

// rawCategory mirrors one category section of the catalog file.
type rawCategory struct {
	Type    string             `json:"type"`
	Devices map[string]rawSpec `json:"devices"`
}

// rawSpec mirrors one device specification of the catalog file.
type rawSpec struct {
	Object   string `json:"object"`
	Property string `json:"property"`
}

// Load reads and parses the alias catalog file.
//
// Parameters:
//   - path: Path to the JSON catalog file
//
// Returns:
//   - *Catalog: Validated catalog ready for lookups
//   - error: IO failure, JSON syntax error, ErrMalformedEntry, or
//     ErrDuplicateAlias - the caller must keep its previous catalog
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from raw JSON.
//
// Validation rules:
//   - every device needs a non-empty object and property
//   - one alias may not appear twice within the same category
//
// A validation failure rejects the whole document - there is no partial load.
func Parse(data []byte) (*Catalog, error) {
	var raw map[string]rawCategory
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	c := &Catalog{
		index: make(map[string][]*Entry),
	}

	// Sort categories for deterministic entry order (and error messages).
	categories := make([]string, 0, len(raw))
	for name := range raw {
		categories = append(categories, name)
	}
	sort.Strings(categories)

	for _, category := range categories {
		section := raw[category]
		if err := c.addCategory(category, section); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// addCategory validates and indexes one category section.
func (c *Catalog) addCategory(category string, section rawCategory) error {
	kind := Kind(section.Type)
	if kind == "" {
		kind = KindUnknown
	}

	// seen tracks aliases already claimed within this category.
	seen := make(map[string]string)

	keys := make([]string, 0, len(section.Devices))
	for key := range section.Devices {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		spec := section.Devices[key]
		if spec.Object == "" || spec.Property == "" {
			return fmt.Errorf("%w: %q in category %q needs object and property",
				ErrMalformedEntry, key, category)
		}

		entry := &Entry{
			Category: category,
			Kind:     kind,
			Target:   Target{Object: spec.Object, Property: spec.Property},
		}

		for _, name := range strings.Split(key, ",") {
			alias := NormalizeAlias(name)
			if alias == "" {
				continue
			}
			if prev, dup := seen[alias]; dup {
				return fmt.Errorf("%w: %q claimed by both %q and %q in category %q",
					ErrDuplicateAlias, alias, prev, key, category)
			}
			seen[alias] = key
			entry.Aliases = append(entry.Aliases, alias)
		}

		if len(entry.Aliases) == 0 {
			return fmt.Errorf("%w: %q in category %q has no usable alias",
				ErrMalformedEntry, key, category)
		}

		c.entries = append(c.entries, entry)
		for _, alias := range entry.Aliases {
			c.index[alias] = append(c.index[alias], entry)
		}
	}

	return nil
}

// Lookup returns every entry whose alias set contains the normalized text.
// It is a pure in-memory read. The returned slice must not be modified.
func (c *Catalog) Lookup(text string) []*Entry {
	return c.index[NormalizeAlias(text)]
}

// Entries returns all catalog entries in deterministic order.
func (c *Catalog) Entries() []*Entry {
	return c.entries
}

// AliasesByKind returns the sorted distinct aliases of all entries with the
// given kind. Used to suggest alternatives when resolution fails.
func (c *Catalog) AliasesByKind(kind Kind) []string {
	set := make(map[string]struct{})
	for _, e := range c.entries {
		if e.Kind != kind {
			continue
		}
		for _, a := range e.Aliases {
			set[a] = struct{}{}
		}
	}

	aliases := make([]string, 0, len(set))
	for a := range set {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)
	return aliases
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}
