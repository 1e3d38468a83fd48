package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleCatalog = `{
  "свет": {
    "type": "relay",
    "devices": {
      "улица": { "object": "Relay01", "property": "status" },
      "комната отдыха, комната": { "object": "Relay02", "property": "status" }
    }
  },
  "сенсоры_температура": {
    "type": "sensors",
    "devices": {
      "парная": { "object": "Temp01", "property": "value" }
    }
  },
  "сенсоры_влажность": {
    "type": "sensors",
    "devices": {
      "парная": { "object": "Hum01", "property": "value" }
    }
  },
  "колонки": {
    "type": "media",
    "devices": {
      "комната отдыха": { "object": "Speaker01", "property": "volume" }
    }
  }
}`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if c.Len() != 5 {
		t.Errorf("Len = %d, want 5", c.Len())
	}

	entries := c.Lookup("улица")
	if len(entries) != 1 {
		t.Fatalf("Lookup(улица) = %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Target.Object != "Relay01" || e.Target.Property != "status" {
		t.Errorf("target = %v, want Relay01.status", e.Target)
	}
	if e.Category != "свет" || e.Kind != KindRelay {
		t.Errorf("category/kind = %s/%s, want свет/relay", e.Category, e.Kind)
	}
}

func TestParse_CommaSeparatedAliases(t *testing.T) {
	c, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	// Both names in the comma list resolve to the same entry.
	a := c.Lookup("комната отдыха")
	b := c.Lookup("комната")
	if len(b) != 1 {
		t.Fatalf("Lookup(комната) = %d entries, want 1", len(b))
	}

	var lightEntry *Entry
	for _, e := range a {
		if e.Kind == KindRelay {
			lightEntry = e
		}
	}
	if lightEntry == nil {
		t.Fatal("no relay entry for комната отдыха")
	}
	if b[0] != lightEntry {
		t.Error("комната and комната отдыха should share one entry")
	}
}

func TestParse_CrossCategoryDuplicateAllowed(t *testing.T) {
	c, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	// "парная" exists in both sensor categories.
	entries := c.Lookup("парная")
	if len(entries) != 2 {
		t.Fatalf("Lookup(парная) = %d entries, want 2", len(entries))
	}
	if entries[0].Category == entries[1].Category {
		t.Error("duplicate alias entries should come from distinct categories")
	}
}

func TestParse_DuplicateAliasSameCategory(t *testing.T) {
	data := `{
	  "свет": {
	    "type": "relay",
	    "devices": {
	      "улица": { "object": "Relay01", "property": "status" },
	      "УЛИЦА ": { "object": "Relay09", "property": "status" }
	    }
	  }
	}`

	_, err := Parse([]byte(data))
	if !errors.Is(err, ErrDuplicateAlias) {
		t.Fatalf("err = %v, want ErrDuplicateAlias", err)
	}
}

func TestParse_MalformedEntry(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{
			name: "missing object",
			data: `{"свет": {"type": "relay", "devices": {"улица": {"property": "status"}}}}`,
		},
		{
			name: "missing property",
			data: `{"свет": {"type": "relay", "devices": {"улица": {"object": "Relay01"}}}}`,
		},
		{
			name: "empty alias key",
			data: `{"свет": {"type": "relay", "devices": {" , ": {"object": "R", "property": "s"}}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); !errors.Is(err, ErrMalformedEntry) {
				t.Errorf("err = %v, want ErrMalformedEntry", err)
			}
		})
	}
}

func TestParse_InvalidJSON(t *testing.T) {
	if _, err := Parse([]byte("{not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLookup_CaseAndWhitespace(t *testing.T) {
	c, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	for _, query := range []string{"Улица", "  улица  ", "УЛИЦА"} {
		if len(c.Lookup(query)) != 1 {
			t.Errorf("Lookup(%q) missed", query)
		}
	}

	if len(c.Lookup("комната   отдыха")) == 0 {
		t.Error("internal whitespace should be collapsed")
	}
}

func TestAliasesByKind(t *testing.T) {
	c, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	relays := c.AliasesByKind(KindRelay)
	want := []string{"комната", "комната отдыха", "улица"}
	if len(relays) != len(want) {
		t.Fatalf("relay aliases = %v, want %v", relays, want)
	}
	for i := range want {
		if relays[i] != want[i] {
			t.Errorf("relay aliases[%d] = %q, want %q", i, relays[i], want[i])
		}
	}
}

func writeCatalogFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "device_aliases.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing catalog: %v", err)
	}
	return path
}

func TestStore_ReloadKeepsPreviousOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalogFile(t, dir, sampleCatalog)

	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	before := store.Current()

	// Corrupt the file; reload must fail and keep the old catalog.
	if err := os.WriteFile(path, []byte("{broken"), 0600); err != nil {
		t.Fatalf("corrupting catalog: %v", err)
	}
	if err := store.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if store.Current() != before {
		t.Error("failed reload must not swap the catalog")
	}

	// Fix the file; reload swaps.
	valid := `{"свет": {"type": "relay", "devices": {"улица": {"object": "R", "property": "s"}}}}`
	if err := os.WriteFile(path, []byte(valid), 0600); err != nil {
		t.Fatalf("fixing catalog: %v", err)
	}
	if err := store.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if store.Current() == before {
		t.Error("successful reload should swap the catalog")
	}
	if store.Current().Len() != 1 {
		t.Errorf("reloaded Len = %d, want 1", store.Current().Len())
	}
}

func TestStore_WatchRunsUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalogFile(t, dir, sampleCatalog)

	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- store.Watch(ctx)
	}()

	// Watch blocks for the daemon's lifetime; callers must give it its
	// own goroutine or startup stalls here.
	select {
	case err := <-done:
		t.Fatalf("Watch returned early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch after cancel = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestNewStore_InitialLoadFailure(t *testing.T) {
	if _, err := NewStore(filepath.Join(t.TempDir(), "missing.json"), nil); err == nil {
		t.Fatal("expected error for missing catalog file")
	}
}
