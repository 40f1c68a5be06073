package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/billing-scheduler/internal/domain"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 60 * time.Second
)

// ErrInvalidTransition is returned for any transition not in the lifecycle table
var ErrInvalidTransition = errors.New("invalid transaction transition")

// Verdict is the gateway outcome for one settlement attempt
type Verdict bool

const (
	VerdictSuccess Verdict = true
	VerdictFailure Verdict = false
)

func (v Verdict) String() string {
	if v {
		return "success"
	}
	return "failure"
}

// RetryPolicy drives the transaction lifecycle:
//
//	pending    -> processing
//	retrying   -> processing
//	processing -> succeeded                        (success)
//	processing -> retrying  (attempts+1 <  MaxAttempts, failure)
//	processing -> failed    (attempts+1 >= MaxAttempts, failure)
type RetryPolicy struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// DefaultRetryPolicy returns the fixed three-attempt, one-minute policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
	}
}

// Begin moves a due transaction into processing
func (p RetryPolicy) Begin(txn domain.Transaction) (domain.Transaction, error) {
	switch txn.Status {
	case domain.TransactionStatusPending, domain.TransactionStatusRetrying:
		txn.Status = domain.TransactionStatusProcessing
		return txn, nil
	default:
		return txn, transitionError(txn, domain.TransactionStatusProcessing)
	}
}

// Resolve applies a gateway verdict to a processing transaction. now is the
// batch instant that a retry delay is measured from.
func (p RetryPolicy) Resolve(txn domain.Transaction, verdict Verdict, now time.Time) (domain.Transaction, error) {
	if txn.Status != domain.TransactionStatusProcessing {
		target := domain.TransactionStatusSucceeded
		if verdict == VerdictFailure {
			target = domain.TransactionStatusRetrying
		}
		return txn, transitionError(txn, target)
	}

	if verdict == VerdictSuccess {
		txn.Status = domain.TransactionStatusSucceeded
		return txn, nil
	}

	txn.Attempts++
	if txn.Attempts >= p.maxAttempts() {
		txn.Status = domain.TransactionStatusFailed
		return txn, nil
	}

	txn.Status = domain.TransactionStatusRetrying
	txn.ScheduledDate = now.Add(p.RetryDelay)
	return txn, nil
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func transitionError(txn domain.Transaction, to domain.TransactionStatus) error {
	return fmt.Errorf("%w: %s -> %s (transaction %s)", ErrInvalidTransition, txn.Status, to, txn.ID)
}
