// Package storage persists the object store's durable baseline to disk
// with Pebble, and appends a write-ahead log of committed block
// boundaries so a crashed process can recover up to the last synced
// commit (spec §6 "Persisted state layout is treated as external: the
// core assumes a provider that can save a consistent snapshot at any
// commit boundary and restore it").
//
// Grounded on the teacher's pkg/storage (PebbleStore/FileWAL wrapping
// github.com/cockroachdb/pebble and a key-schema comment documenting
// prefix allocation), generalized from the teacher's single
// consensus-block/account-position schema to one row-key-per-entity
// schema covering every pkg/entity table, and from its gob-over-bytes
// codec.
package storage

import (
	"bytes"
	"encoding/gob"
)

// encodeGob and decodeGob wrap gob as the on-disk entity codec — gob
// round-trips the entity structs' map-keyed-by-ID fields (Authority's
// AccountIDs, for instance) that a JSON codec cannot, matching the
// teacher's choice of gob for its consensus-object persistence.
func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
