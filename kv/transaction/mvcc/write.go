package mvcc

import (
	"fmt"
	"sync/atomic"

	"github.com/pingcap-incubator/tinycc/kv/transaction/tid"
)

// OpType is the kind of a buffered write. A write set entry holds exactly one OpType; repeated writes to the same
// record within a transaction are coalesced into a single entry.
type OpType int

const (
	OpInsert OpType = 1
	OpUpdate OpType = 2
	OpUpsert OpType = 3
	OpDelete OpType = 4
)

func (op OpType) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpUpsert:
		return "upsert"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// WritesValue reports whether the operation leaves a materialized value behind.
func (op OpType) WritesValue() bool {
	return op != OpDelete
}

// Version is one committed state of a record. A published version is never mutated, except for its next link which
// only garbage collection and long transaction splicing change, both under the record lock.
type Version struct {
	value []byte
	tidw  tid.Word
	ltxID uint64
	next  atomic.Pointer[Version]
}

// Value returns the materialized value. It is nil for a tombstone.
func (v *Version) Value() []byte {
	return v.value
}

// Tidw returns the stamp of the version. Lock bits are always clear.
func (v *Version) Tidw() tid.Word {
	return v.tidw
}

// LtxID is the id of the long transaction that wrote the version, or 0 if it was written by a short transaction.
func (v *Version) LtxID() uint64 {
	return v.ltxID
}

// Next returns the next older version.
func (v *Version) Next() *Version {
	return v.next.Load()
}
