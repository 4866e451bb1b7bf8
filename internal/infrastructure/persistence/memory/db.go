// Package memory implements the repositories in process memory. It backs the
// test suites and single-node development runs; every write that PostgreSQL
// guards with a unique constraint is guarded here by the same key under one lock.
package memory

import (
	"sort"
	"sync"

	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/badge"
	"github.com/alem-hub/reading-engine/internal/domain/challenge"
	"github.com/alem-hub/reading-engine/internal/domain/member"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
)

type idemKey struct {
	user shared.UserID
	key  shared.IdempotencyKey
}

type ledgerKey struct {
	source activity.SourceType
	ref    string
}

// DB is the shared state behind all memory repositories.
type DB struct {
	mu sync.RWMutex

	nextEventID int64
	events      map[int64]*activity.Event
	byKey       map[idemKey]int64
	byUser      map[shared.UserID][]int64
	reversals   map[int64]activity.Reversal

	ledger     []activity.LedgerEntry
	ledgerRefs map[ledgerKey]int

	members map[shared.UserID]*member.Member

	badgeDefs  map[badge.ID]badge.Definition
	userBadges map[shared.UserID]map[badge.ID]badge.UserBadge

	challenges  map[challenge.ID]challenge.Definition
	completions map[challenge.ID]map[shared.UserID]challenge.Completion

	faults map[string][]error
}

// NewDB creates an empty database.
func NewDB() *DB {
	return &DB{
		events:      make(map[int64]*activity.Event),
		byKey:       make(map[idemKey]int64),
		byUser:      make(map[shared.UserID][]int64),
		reversals:   make(map[int64]activity.Reversal),
		ledgerRefs:  make(map[ledgerKey]int),
		members:     make(map[shared.UserID]*member.Member),
		badgeDefs:   make(map[badge.ID]badge.Definition),
		userBadges:  make(map[shared.UserID]map[badge.ID]badge.UserBadge),
		challenges:  make(map[challenge.ID]challenge.Definition),
		completions: make(map[challenge.ID]map[shared.UserID]challenge.Completion),
		faults:      make(map[string][]error),
	}
}

// FailNext makes the next call of op return err. Calls queue up.
// Used by tests to simulate transient storage failures.
func (db *DB) FailNext(op string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.faults[op] = append(db.faults[op], err)
}

// fault pops a pending failure for op. Caller holds the lock.
func (db *DB) fault(op string) error {
	q := db.faults[op]
	if len(q) == 0 {
		return nil
	}
	db.faults[op] = q[1:]
	return q[0]
}

// insertLedger appends an entry unless (source, ref) exists. Caller holds the lock.
func (db *DB) insertLedger(e activity.LedgerEntry) bool {
	k := ledgerKey{e.SourceType, e.SourceRef}
	if _, ok := db.ledgerRefs[k]; ok {
		return false
	}
	db.ledgerRefs[k] = len(db.ledger)
	db.ledger = append(db.ledger, e)
	return true
}

func (db *DB) hasLedger(source activity.SourceType, ref string) bool {
	_, ok := db.ledgerRefs[ledgerKey{source, ref}]
	return ok
}

// eventCopy returns a detached event with the reversal flag joined in.
// Caller holds the lock.
func (db *DB) eventCopy(id int64) *activity.Event {
	ev := *db.events[id]
	_, ev.Reversed = db.reversals[id]
	return &ev
}

func sortUserIDs(ids []shared.UserID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
