package storage

import "fmt"

// Entity key schema for Pebble storage.
//
// Every row is stored under a flat key so a full-table scan is a
// contiguous Pebble range scan:
//
//	e:<kind>:<instance>   -> gob-encoded row
//	meta:checkpoint       -> last committed block number snapshotted
//
// loadTable reconstructs each table's next-free-instance counter from
// the highest instance loaded (store.Table.Load), so no separate
// meta:next:<kind> counter needs to be persisted.
//
// This differs from the teacher's two-prefix scheme (consensus blocks
// under "b:"/"c:", account/position/order rows under "acc:"/"pos:"/
// "ord:") only in covering the full pkg/entity kind set uniformly
// instead of a fixed handful of teacher-specific row types.
func entityKey(kind, instance uint64) []byte {
	return []byte(fmt.Sprintf("e:%d:%020d", kind, instance))
}

var checkpointKey = []byte("meta:checkpoint")
