package session

import (
	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/mvcc"
)

// ScanHandle names an open scan of a session.
type ScanHandle uint64

// ScanItem is one entry materialized when the scan was opened.
type ScanItem struct {
	Rec   *mvcc.Record
	Value []byte
	// Own is set when the value comes from this transaction's write set.
	Own bool
}

// ScanCursor is the state of an open scan.
type ScanCursor struct {
	Storage *storage.Storage
	Range   storage.Range
	Items   []ScanItem
	Pos     int
}

// Current returns the item under the cursor.
func (c *ScanCursor) Current() (ScanItem, bool) {
	if c.Pos >= len(c.Items) {
		return ScanItem{}, false
	}
	return c.Items[c.Pos], true
}

// Next advances the cursor and reports whether it still points at an item.
func (c *ScanCursor) Next() bool {
	if c.Pos < len(c.Items) {
		c.Pos++
	}
	return c.Pos < len(c.Items)
}

type ScanTable struct {
	next    ScanHandle
	cursors map[ScanHandle]*ScanCursor
}

func (st *ScanTable) Open(c *ScanCursor) ScanHandle {
	if st.cursors == nil {
		st.cursors = make(map[ScanHandle]*ScanCursor)
	}
	st.next++
	st.cursors[st.next] = c
	return st.next
}

func (st *ScanTable) Get(h ScanHandle) (*ScanCursor, bool) {
	c, ok := st.cursors[h]
	return c, ok
}

func (st *ScanTable) Close(h ScanHandle) bool {
	if _, ok := st.cursors[h]; !ok {
		return false
	}
	delete(st.cursors, h)
	return true
}

func (st *ScanTable) Len() int {
	return len(st.cursors)
}

// Clear closes every scan. Handles are never reused within a session.
func (st *ScanTable) Clear() {
	for h := range st.cursors {
		delete(st.cursors, h)
	}
}
