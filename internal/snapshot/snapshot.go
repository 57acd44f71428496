// Package snapshot defines the canonical UI-state snapshot exchanged
// with remote storage, plus the raw record types the store adapters
// produce and consume.
package snapshot

import "encoding/json"

// Record is one key/value pair read from a store. Values are opaque
// serialized strings; the engine never interprets them.
type Record struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Store is the filtered contents of a single store/table together with
// the marker value retained for attribution.
type Store struct {
	Name    string   `json:"name"`
	Marker  string   `json:"marker"`
	Records []Record `json:"records"`
}

// Canonical is the workspace-grouped, key-filtered export of UI state:
// workspace name -> store/table name -> key -> value. Top-level keys
// are unique; insertion order carries no meaning.
type Canonical map[string]map[string]map[string]string

// New returns an empty canonical snapshot.
func New() Canonical {
	return make(Canonical)
}

// SetStore replaces the (workspace, store) entry with the given
// records. Later calls for the same pair win, which is how the
// extraction pipeline implements last-write-wins across duplicate
// attributions.
func (c Canonical) SetStore(workspace, store string, records []Record) {
	stores, ok := c[workspace]
	if !ok {
		stores = make(map[string]map[string]string)
		c[workspace] = stores
	}
	keys := make(map[string]string, len(records))
	for _, rec := range records {
		keys[rec.Key] = rec.Value
	}
	stores[store] = keys
}

// Set writes a single value, creating intermediate maps as needed.
func (c Canonical) Set(workspace, store, key, value string) {
	stores, ok := c[workspace]
	if !ok {
		stores = make(map[string]map[string]string)
		c[workspace] = stores
	}
	keys, ok := stores[store]
	if !ok {
		keys = make(map[string]string)
		stores[store] = keys
	}
	keys[key] = value
}

// Lookup returns the key map for a (workspace, store) pair.
func (c Canonical) Lookup(workspace, store string) (map[string]string, bool) {
	stores, ok := c[workspace]
	if !ok {
		return nil, false
	}
	keys, ok := stores[store]
	return keys, ok
}

// Workspaces returns the number of workspaces in the snapshot.
func (c Canonical) Workspaces() int {
	return len(c)
}

// Keys returns the total number of values across all stores.
func (c Canonical) Keys() int {
	n := 0
	for _, stores := range c {
		for _, keys := range stores {
			n += len(keys)
		}
	}
	return n
}

// Equal reports value equality with another snapshot, ignoring map
// ordering.
func (c Canonical) Equal(other Canonical) bool {
	if len(c) != len(other) {
		return false
	}
	for ws, stores := range c {
		otherStores, ok := other[ws]
		if !ok || len(stores) != len(otherStores) {
			return false
		}
		for store, keys := range stores {
			otherKeys, ok := otherStores[store]
			if !ok || len(keys) != len(otherKeys) {
				return false
			}
			for k, v := range keys {
				if ov, ok := otherKeys[k]; !ok || ov != v {
					return false
				}
			}
		}
	}
	return true
}

// Clone returns a deep copy. The extraction pipeline hands out clones
// so the per-cycle snapshot stays immutable once produced.
func (c Canonical) Clone() Canonical {
	out := make(Canonical, len(c))
	for ws, stores := range c {
		outStores := make(map[string]map[string]string, len(stores))
		for store, keys := range stores {
			outKeys := make(map[string]string, len(keys))
			for k, v := range keys {
				outKeys[k] = v
			}
			outStores[store] = outKeys
		}
		out[ws] = outStores
	}
	return out
}

// Encode serializes the snapshot as JSON.
func (c Canonical) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// Decode parses a JSON snapshot document.
func Decode(data []byte) (Canonical, error) {
	var c Canonical
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if c == nil {
		c = New()
	}
	return c, nil
}
