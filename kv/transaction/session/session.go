// Package session holds the per worker transaction workspace.
//
// A session is claimed by one caller between Enter and Leave and is reused across many transactions. Only its owner
// touches the read, write, scan and node sets. The epoch fields are atomics because the clock driver, the logger and
// garbage collection read them from their own goroutines.
package session

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
	"github.com/pingcap-incubator/tinycc/kv/transaction/status"
	"go.uber.org/atomic"
)

// TxType is the class of a transaction.
type TxType int

const (
	Short TxType = iota
	Long
	ReadOnly
)

func (t TxType) String() string {
	switch t {
	case Short:
		return "short"
	case Long:
		return "long"
	case ReadOnly:
		return "read_only"
	}
	return "unknown"
}

// TxState is the life cycle state of the last transaction of a session.
type TxState int

const (
	NotBegun TxState = iota
	WaitingStart
	Started
	WaitingCCCommit
	CommittedNotDurable
	Durable
	Aborted
)

func (s TxState) String() string {
	switch s {
	case NotBegun:
		return "NOT_BEGUN"
	case WaitingStart:
		return "WAITING_START"
	case Started:
		return "STARTED"
	case WaitingCCCommit:
		return "WAITING_CC_COMMIT"
	case CommittedNotDurable:
		return "COMMITTED_NOT_DURABLE"
	case Durable:
		return "DURABLE"
	case Aborted:
		return "ABORTED"
	}
	return "UNKNOWN"
}

// ReadArea restricts which storages a long transaction may read. An empty positive list allows every storage that is
// not in the negative list.
type ReadArea struct {
	Positive []storage.ID
	Negative []storage.ID
}

// Allows reports whether id may be read.
func (ra ReadArea) Allows(id storage.ID) bool {
	for _, n := range ra.Negative {
		if n == id {
			return false
		}
	}
	if len(ra.Positive) == 0 {
		return true
	}
	for _, p := range ra.Positive {
		if p == id {
			return true
		}
	}
	return false
}

// CommitCallback receives the outcome of an asynchronous commit and the epoch the transaction was serialized in.
// Durability of that epoch is reported by the engine's durable epoch.
type CommitCallback func(st status.Status, reason status.Reason, commitEpoch epoch.Epoch)

// Session is the workspace of one worker.
type Session struct {
	// Mu serializes the owner with the background resolver of pending long transaction commits.
	Mu sync.Mutex

	token   uint32
	visible atomic.Uint32

	// stepEpoch is the global epoch a short commit loaded before its serialization point, 0 outside a commit.
	stepEpoch atomic.Uint64
	// activeEpoch is the epoch the current transaction began in, 0 when idle.
	activeEpoch atomic.Uint64
	// readEpoch is the snapshot epoch of a long or read only transaction, 0 otherwise.
	readEpoch atomic.Uint64

	TxType TxType
	Began  bool
	State  TxState

	ReadSet  []ReadEntry
	WriteSet *WriteSet
	NodeSet  NodeSet
	Scans    ScanTable
	// RangeReads are the ranges scanned by a short transaction.
	RangeReads []RangeRead

	// Long transaction fields.
	LtxID      uint64
	ValidEpoch epoch.Epoch
	WP         []storage.ID
	Area       ReadArea
	Overtaken  *roaring64.Bitmap
	// ReadStorages are the storages with read-by entries of this transaction.
	ReadStorages map[storage.ID]struct{}
	// ReadVersionMaxEpoch is the largest epoch among the versions read.
	ReadVersionMaxEpoch epoch.Epoch

	// CommitAttempts counts the commit calls of a long transaction, including background retries.
	CommitAttempts int
	// Pending is the callback of a long transaction commit that is waiting for other transactions.
	Pending CommitCallback

	// Outcome is the status the last commit attempt or abort ended with.
	Outcome     status.Status
	Result      status.ResultInfo
	CommitEpoch epoch.Epoch
}

// RangeRead is a range a short transaction scanned.
type RangeRead struct {
	Storage *storage.Storage
	Range   storage.Range
}

func New(token uint32) *Session {
	return &Session{
		token:        token,
		WriteSet:     NewWriteSet(),
		Overtaken:    roaring64.NewBitmap(),
		ReadStorages: make(map[storage.ID]struct{}),
	}
}

func (s *Session) Token() uint32 {
	return s.token
}

// Claim marks the session as owned. It fails if somebody else owns it.
func (s *Session) Claim() bool {
	return s.visible.CAS(0, 1)
}

func (s *Session) Release() {
	s.visible.Store(0)
}

func (s *Session) Visible() bool {
	return s.visible.Load() == 1
}

func (s *Session) StepEpoch() epoch.Epoch { return epoch.Epoch(s.stepEpoch.Load()) }
func (s *Session) SetStepEpoch(e epoch.Epoch) { s.stepEpoch.Store(uint64(e)) }
func (s *Session) ActiveEpoch() epoch.Epoch { return epoch.Epoch(s.activeEpoch.Load()) }
func (s *Session) SetActiveEpoch(e epoch.Epoch) { s.activeEpoch.Store(uint64(e)) }
func (s *Session) ReadEpoch() epoch.Epoch { return epoch.Epoch(s.readEpoch.Load()) }
func (s *Session) SetReadEpoch(e epoch.Epoch) { s.readEpoch.Store(uint64(e)) }

// InWP reports whether id is among the write preserved storages.
func (s *Session) InWP(id storage.ID) bool {
	i := sort.Search(len(s.WP), func(i int) bool { return s.WP[i] >= id })
	return i < len(s.WP) && s.WP[i] == id
}

// SetWP stores the write preserved storages sorted and without duplicates.
func (s *Session) SetWP(ids []storage.ID) {
	wp := append([]storage.ID(nil), ids...)
	sort.Slice(wp, func(i, j int) bool { return wp[i] < wp[j] })
	out := wp[:0]
	for _, id := range wp {
		if len(out) == 0 || out[len(out)-1] != id {
			out = append(out, id)
		}
	}
	s.WP = out
}

// Reset clears every transaction scoped field. The state, outcome, result info and commit epoch of the last
// transaction survive.
func (s *Session) Reset() {
	s.Began = false
	s.TxType = Short
	s.ReadSet = s.ReadSet[:0]
	s.RangeReads = s.RangeReads[:0]
	s.WriteSet.Clear()
	s.NodeSet.Clear()
	s.Scans.Clear()
	s.LtxID = 0
	s.ValidEpoch = 0
	s.WP = nil
	s.Area = ReadArea{}
	s.Overtaken.Clear()
	for id := range s.ReadStorages {
		delete(s.ReadStorages, id)
	}
	s.ReadVersionMaxEpoch = 0
	s.CommitAttempts = 0
	s.Pending = nil
	s.stepEpoch.Store(0)
	s.activeEpoch.Store(0)
	s.readEpoch.Store(0)
}
