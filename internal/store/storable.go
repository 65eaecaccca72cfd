package store

import (
	"encoding/json"
	"errors"
)

// Storable is implemented by objects that persist themselves in the store
// under a fixed key. Serialization is explicit: implementations decide what
// their stored representation looks like rather than relying on reflection
// over their fields.
type Storable interface {
	// StoreKey returns the unique key identifying this object.
	StoreKey() string

	// DumpData returns a JSON-serializable representation of the object.
	DumpData() (interface{}, error)

	// LoadData restores the object from its stored representation. A nil
	// argument means no data exists under the object's key.
	LoadData(data json.RawMessage) error
}

// Load restores obj from the store. A missing key is not an error; the
// object is given a nil payload and left to apply its defaults.
func Load(s *Store, obj Storable) error {
	raw, err := s.getRaw(obj.StoreKey())
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return obj.LoadData(nil)
		}
		return err
	}
	return obj.LoadData(raw)
}

// Dump persists obj's current representation to the store.
func Dump(s *Store, obj Storable) error {
	data, err := obj.DumpData()
	if err != nil {
		return err
	}
	return s.Put(obj.StoreKey(), data)
}
