package store

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/dmreichard/PantsMUD/internal/core"
)

func setUpStore(t *testing.T) *Store {
	t.Helper()

	cfg := &core.Config{}
	cfg.Database.Engine = "sqlite"
	cfg.Database.Filename = filepath.Join(t.TempDir(), "mud.db")

	s, err := Open(cfg, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("Open() returned an unexpected error: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() returned an unexpected error: %v", err)
		}
	})

	return s
}

func TestStore_PutGet(t *testing.T) {
	s := setUpStore(t)

	type room struct {
		Name  string   `json:"name"`
		Exits []string `json:"exits"`
	}

	stored := room{Name: "Town Square", Exits: []string{"north", "east"}}
	if err := s.Put("room.town_square", stored); err != nil {
		t.Fatalf("Put() returned an unexpected error: %v", err)
	}

	var loaded room
	if err := s.Get("room.town_square", &loaded); err != nil {
		t.Fatalf("Get() returned an unexpected error: %v", err)
	}
	if diff := cmp.Diff(stored, loaded); diff != "" {
		t.Errorf("loaded value did not match stored value; diff:\n%s", diff)
	}
}

func TestStore_PutOverwrites(t *testing.T) {
	s := setUpStore(t)

	if err := s.Put("counter", 1); err != nil {
		t.Fatalf("Put() returned an unexpected error: %v", err)
	}
	if err := s.Put("counter", 2); err != nil {
		t.Fatalf("Put() returned an unexpected error: %v", err)
	}

	var value int
	if err := s.Get("counter", &value); err != nil {
		t.Fatalf("Get() returned an unexpected error: %v", err)
	}
	if value != 2 {
		t.Errorf("Get() = %d, want 2", value)
	}
}

func TestStore_GetMissingKey(t *testing.T) {
	s := setUpStore(t)

	var out string
	if err := s.Get("missing", &out); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() error = %v, want ErrKeyNotFound", err)
	}
}

func TestStore_HasAndDelete(t *testing.T) {
	s := setUpStore(t)

	if err := s.Put("player.bob", "data"); err != nil {
		t.Fatalf("Put() returned an unexpected error: %v", err)
	}

	present, err := s.Has("player.bob")
	if err != nil {
		t.Fatalf("Has() returned an unexpected error: %v", err)
	}
	if !present {
		t.Fatal("Has() = false for a stored key")
	}

	if err := s.Delete("player.bob"); err != nil {
		t.Fatalf("Delete() returned an unexpected error: %v", err)
	}

	present, err = s.Has("player.bob")
	if err != nil {
		t.Fatalf("Has() returned an unexpected error: %v", err)
	}
	if present {
		t.Error("Has() = true after Delete()")
	}

	var out string
	if err := s.Get("player.bob", &out); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() error after Delete() = %v, want ErrKeyNotFound", err)
	}

	// Deleting a missing key is not an error.
	if err := s.Delete("player.bob"); err != nil {
		t.Errorf("Delete() of a missing key returned error: %v", err)
	}
}

func TestStore_KeysAndSelect(t *testing.T) {
	s := setUpStore(t)

	for _, key := range []string{"room.one", "room.two", "player.bob"} {
		if err := s.Put(key, "x"); err != nil {
			t.Fatalf("Put(%s) returned an unexpected error: %v", key, err)
		}
	}

	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("Keys() returned an unexpected error: %v", err)
	}
	sort.Strings(keys)
	if diff := cmp.Diff([]string{"player.bob", "room.one", "room.two"}, keys); diff != "" {
		t.Errorf("Keys() mismatch; diff:\n%s", diff)
	}

	rooms, err := s.Select("room.%")
	if err != nil {
		t.Fatalf("Select() returned an unexpected error: %v", err)
	}
	sort.Strings(rooms)
	if diff := cmp.Diff([]string{"room.one", "room.two"}, rooms); diff != "" {
		t.Errorf("Select() mismatch; diff:\n%s", diff)
	}
}

// persistentFlag is a minimal Storable used to exercise Load and Dump.
type persistentFlag struct {
	key     string
	Enabled bool
}

func (p *persistentFlag) StoreKey() string { return p.key }

func (p *persistentFlag) DumpData() (interface{}, error) {
	return map[string]bool{"enabled": p.Enabled}, nil
}

func (p *persistentFlag) LoadData(data json.RawMessage) error {
	if data == nil {
		p.Enabled = false
		return nil
	}
	var fields map[string]bool
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	p.Enabled = fields["enabled"]
	return nil
}

func TestStorable_RoundTrip(t *testing.T) {
	s := setUpStore(t)

	original := &persistentFlag{key: "flag.pvp", Enabled: true}
	if err := Dump(s, original); err != nil {
		t.Fatalf("Dump() returned an unexpected error: %v", err)
	}

	restored := &persistentFlag{key: "flag.pvp"}
	if err := Load(s, restored); err != nil {
		t.Fatalf("Load() returned an unexpected error: %v", err)
	}
	if !restored.Enabled {
		t.Error("Load() did not restore the persisted value")
	}
}

func TestStorable_LoadMissingKeyAppliesDefaults(t *testing.T) {
	s := setUpStore(t)

	flag := &persistentFlag{key: "flag.unsaved", Enabled: true}
	if err := Load(s, flag); err != nil {
		t.Fatalf("Load() of a missing key returned error: %v", err)
	}
	if flag.Enabled {
		t.Error("Load() of a missing key did not apply defaults")
	}
}

func TestOpen_UnsupportedEngine(t *testing.T) {
	cfg := &core.Config{}
	cfg.Database.Engine = "mongodb"

	if _, err := Open(cfg, zap.NewNop().Sugar()); err == nil {
		t.Fatal("Open() with an unsupported engine returned nil error")
	}
}
