package gateway

import (
	"context"
	"sync"

	"github.com/Dhoini/billing-scheduler/internal/billing"
	"github.com/Dhoini/billing-scheduler/internal/domain"
)

// Scripted returns pre-programmed verdicts. Verdicts queued for a transaction
// id are consumed in order; once a queue is empty the default verdict is used.
type Scripted struct {
	mu       sync.Mutex
	def      billing.Verdict
	byTxn    map[string][]billing.Verdict
	byKey    map[string][]billing.Verdict
	calls    []string
	errorFor map[string]error
}

// NewScripted creates a Scripted gateway answering def when nothing is queued
func NewScripted(def billing.Verdict) *Scripted {
	return &Scripted{
		def:      def,
		byTxn:    make(map[string][]billing.Verdict),
		byKey:    make(map[string][]billing.Verdict),
		errorFor: make(map[string]error),
	}
}

// Queue appends verdicts for the given transaction id
func (s *Scripted) Queue(txnID string, verdicts ...billing.Verdict) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTxn[txnID] = append(s.byTxn[txnID], verdicts...)
	return s
}

// QueueForKey appends verdicts for whichever transaction carries the idempotency key
func (s *Scripted) QueueForKey(key string, verdicts ...billing.Verdict) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[key] = append(s.byKey[key], verdicts...)
	return s
}

// FailWith makes calls for txnID return err
func (s *Scripted) FailWith(txnID string, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorFor[txnID] = err
	return s
}

// Settle pops the next verdict for txn
func (s *Scripted) Settle(_ context.Context, txn domain.Transaction) (billing.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, txn.ID)

	if err, ok := s.errorFor[txn.ID]; ok {
		return billing.VerdictFailure, err
	}
	if q := s.byTxn[txn.ID]; len(q) > 0 {
		s.byTxn[txn.ID] = q[1:]
		return q[0], nil
	}
	if q := s.byKey[txn.IdempotencyKey]; len(q) > 0 {
		s.byKey[txn.IdempotencyKey] = q[1:]
		return q[0], nil
	}
	return s.def, nil
}

// Calls returns the transaction ids settled so far, in call order
func (s *Scripted) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}
