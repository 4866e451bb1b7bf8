package memory

import (
	"context"
	"time"

	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// EventStore implements activity.Store and activity.Ledger.
type EventStore struct {
	db *DB
}

// NewEventStore creates an EventStore over db.
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

var (
	_ activity.Store  = (*EventStore)(nil)
	_ activity.Ledger = (*EventStore)(nil)
)

// Append implements activity.Store.
func (s *EventStore) Append(ctx context.Context, ev *activity.Event, entry *activity.LedgerEntry) (activity.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return activity.AppendResult{}, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if err := s.db.fault("append"); err != nil {
		return activity.AppendResult{}, err
	}

	k := idemKey{ev.UserID, ev.IdempotencyKey}
	if id, ok := s.db.byKey[k]; ok {
		return activity.AppendResult{Event: s.db.eventCopy(id), Duplicate: true}, nil
	}

	s.db.nextEventID++
	stored := *ev
	stored.ID = s.db.nextEventID
	stored.Reversed = false
	s.db.events[stored.ID] = &stored
	s.db.byKey[k] = stored.ID
	s.db.byUser[stored.UserID] = append(s.db.byUser[stored.UserID], stored.ID)

	res := activity.AppendResult{Event: s.db.eventCopy(stored.ID)}
	if entry != nil {
		e := *entry
		e.SourceRef = activity.EventRef(stored.ID)
		s.db.insertLedger(e)
		res.Entry = &e
	}
	return res, nil
}

// Get implements activity.Store.
func (s *EventStore) Get(ctx context.Context, eventID int64) (*activity.Event, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	if _, ok := s.db.events[eventID]; !ok {
		return nil, shared.ErrEventNotFound
	}
	return s.db.eventCopy(eventID), nil
}

// ListByUser implements activity.Store.
func (s *EventStore) ListByUser(ctx context.Context, userID shared.UserID) ([]*activity.Event, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if err := s.db.fault("list_events"); err != nil {
		return nil, err
	}

	ids := s.db.byUser[userID]
	out := make([]*activity.Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.db.eventCopy(id))
	}
	return out, nil
}

// ListByUsers implements activity.Store.
func (s *EventStore) ListByUsers(ctx context.Context, userIDs []shared.UserID, r timeutil.DateRange) (map[shared.UserID][]*activity.Event, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	all := r == (timeutil.DateRange{})
	out := make(map[shared.UserID][]*activity.Event, len(userIDs))
	for _, u := range userIDs {
		for _, id := range s.db.byUser[u] {
			ev := s.db.events[id]
			if !all && !r.Contains(ev.OccurredOn) {
				continue
			}
			out[u] = append(out[u], s.db.eventCopy(id))
		}
	}
	return out, nil
}

// Reverse implements activity.Store.
func (s *EventStore) Reverse(ctx context.Context, rev activity.Reversal, entry *activity.LedgerEntry) (activity.ReverseResult, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.events[rev.EventID]; !ok {
		return activity.ReverseResult{}, shared.ErrEventNotFound
	}

	ref := activity.EventRef(rev.EventID)
	if _, done := s.db.reversals[rev.EventID]; done {
		res := activity.ReverseResult{Event: s.db.eventCopy(rev.EventID), AlreadyReversed: true}
		if i, ok := s.db.ledgerRefs[ledgerKey{activity.SourceReversal, ref}]; ok {
			e := s.db.ledger[i]
			res.Entry = &e
		}
		return res, nil
	}

	s.db.reversals[rev.EventID] = rev
	res := activity.ReverseResult{Event: s.db.eventCopy(rev.EventID)}
	if entry != nil {
		e := *entry
		e.SourceRef = ref
		s.db.insertLedger(e)
		res.Entry = &e
	}
	return res, nil
}

// UsersWithEventsSince implements activity.Store.
func (s *EventStore) UsersWithEventsSince(ctx context.Context, since time.Time, after shared.UserID, limit int) ([]shared.UserID, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	seen := make(map[shared.UserID]struct{})
	for _, ev := range s.db.events {
		if ev.ReceivedAt.After(since) && ev.UserID > after {
			seen[ev.UserID] = struct{}{}
		}
	}
	out := make([]shared.UserID, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sortUserIDs(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Entries implements activity.Ledger.
func (s *EventStore) Entries(ctx context.Context, userID shared.UserID) ([]activity.LedgerEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if err := s.db.fault("ledger"); err != nil {
		return nil, err
	}

	var out []activity.LedgerEntry
	for _, e := range s.db.ledger {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

// EntriesForUsers implements activity.Ledger.
func (s *EventStore) EntriesForUsers(ctx context.Context, userIDs []shared.UserID) (map[shared.UserID][]activity.LedgerEntry, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	want := make(map[shared.UserID]struct{}, len(userIDs))
	for _, u := range userIDs {
		want[u] = struct{}{}
	}
	out := make(map[shared.UserID][]activity.LedgerEntry, len(userIDs))
	for _, e := range s.db.ledger {
		if _, ok := want[e.UserID]; ok {
			out[e.UserID] = append(out[e.UserID], e)
		}
	}
	return out, nil
}
