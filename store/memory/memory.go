// Package memory provides in-memory store implementations for tests/dev.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/kopa/loan-engine/loan"
)

// =============================================================================
// MEMORY STORE - Implements loan.RemoteStore and loan.QueueMirror
// =============================================================================

type Store struct {
	mu          sync.RWMutex
	loans       map[loan.LoanID]*loan.Loan
	payments    map[loan.LoanID][]loan.Payment
	missed      map[loan.LoanID][]loan.MissedPayment
	penalties   map[loan.LoanID][]loan.Penalty
	mirror      map[string]loan.MirrorItem
	idempotency map[string]bool

	// FailWrites, when set, makes every create/update return this error.
	// Used to exercise the sync drain's per-item failure handling.
	FailWrites error
}

func New() *Store {
	return &Store{
		loans:       make(map[loan.LoanID]*loan.Loan),
		payments:    make(map[loan.LoanID][]loan.Payment),
		missed:      make(map[loan.LoanID][]loan.MissedPayment),
		penalties:   make(map[loan.LoanID][]loan.Penalty),
		mirror:      make(map[string]loan.MirrorItem),
		idempotency: make(map[string]bool),
	}
}

// PutLoan seeds or replaces a loan record.
func (s *Store) PutLoan(l *loan.Loan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.loans[l.ID] = &cp
}

func (s *Store) LoanByID(_ context.Context, id loan.LoanID) (*loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loans[id]
	if !ok {
		return nil, loan.ErrLoanNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *Store) CreatePayment(_ context.Context, p loan.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	if p.IdempotencyKey != "" && s.idempotency[p.IdempotencyKey] {
		return loan.ErrDuplicateIdempotencyKey
	}
	s.payments[p.LoanID] = append(s.payments[p.LoanID], p)
	sort.SliceStable(s.payments[p.LoanID], func(i, j int) bool {
		ps := s.payments[p.LoanID]
		return ps[i].ReceivedAt.Before(ps[j].ReceivedAt)
	})
	if p.IdempotencyKey != "" {
		s.idempotency[p.IdempotencyKey] = true
	}
	return nil
}

func (s *Store) CreateMissedPayment(_ context.Context, mp loan.MissedPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	if mp.IdempotencyKey != "" && s.idempotency[mp.IdempotencyKey] {
		return loan.ErrDuplicateIdempotencyKey
	}
	s.missed[mp.LoanID] = append(s.missed[mp.LoanID], mp)
	sort.SliceStable(s.missed[mp.LoanID], func(i, j int) bool {
		ms := s.missed[mp.LoanID]
		return ms[i].ExpectedDate.Before(ms[j].ExpectedDate)
	})
	if mp.IdempotencyKey != "" {
		s.idempotency[mp.IdempotencyKey] = true
	}
	return nil
}

func (s *Store) CreatePenalty(_ context.Context, pen loan.Penalty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	s.penalties[pen.LoanID] = append(s.penalties[pen.LoanID], pen)
	return nil
}

func (s *Store) PaymentsByLoan(_ context.Context, id loan.LoanID) ([]loan.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]loan.Payment, len(s.payments[id]))
	copy(out, s.payments[id])
	return out, nil
}

func (s *Store) MissedPaymentsByLoan(_ context.Context, id loan.LoanID) ([]loan.MissedPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]loan.MissedPayment, len(s.missed[id]))
	copy(out, s.missed[id])
	return out, nil
}

// PenaltiesByLoan is a test convenience, not part of the core contract.
func (s *Store) PenaltiesByLoan(id loan.LoanID) []loan.Penalty {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]loan.Penalty, len(s.penalties[id]))
	copy(out, s.penalties[id])
	return out
}

func (s *Store) UpdateLoanAggregates(_ context.Context, id loan.LoanID, paid, remaining decimal.Decimal, status loan.LoanStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	l, ok := s.loans[id]
	if !ok {
		return loan.ErrLoanNotFound
	}
	l.PaidAmount = paid
	l.RemainingAmount = remaining
	l.Status = status
	return nil
}

func (s *Store) MarkMissedPaymentPaidLater(_ context.Context, id loan.MissedPaymentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	for loanID := range s.missed {
		for i := range s.missed[loanID] {
			if s.missed[loanID][i].ID == id {
				s.missed[loanID][i].PaidLater = true
				return nil
			}
		}
	}
	return loan.ErrLoanNotFound
}

func (s *Store) UpsertMirrorItem(_ context.Context, item loan.MirrorItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	s.mirror[item.ID] = item
	return nil
}

// MirrorItems is a test convenience.
func (s *Store) MirrorItems() []loan.MirrorItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]loan.MirrorItem, 0, len(s.mirror))
	for _, it := range s.mirror {
		out = append(out, it)
	}
	return out
}

// =============================================================================
// MEMORY KV - Implements queue.KV
// =============================================================================

type KV struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	// FailPuts, when set, makes Put return this error. Used to exercise
	// the enqueue durability invariant.
	FailPuts error
}

func NewKV() *KV {
	return &KV{blobs: make(map[string][]byte)}
}

func (kv *KV) Get(_ context.Context, key string) ([]byte, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	b, ok := kv.blobs[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (kv *KV) Put(_ context.Context, key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.FailPuts != nil {
		return kv.FailPuts
	}
	b := make([]byte, len(value))
	copy(b, value)
	kv.blobs[key] = b
	return nil
}

// Snapshot returns a copy of the raw blob map, simulating what a process
// restart would recover from disk.
func (kv *KV) Snapshot() map[string][]byte {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	out := make(map[string][]byte, len(kv.blobs))
	for k, v := range kv.blobs {
		b := make([]byte, len(v))
		copy(b, v)
		out[k] = b
	}
	return out
}
