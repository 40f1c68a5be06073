// Package gateway models the external payment gateway as a verdict source.
package gateway

import (
	"context"

	"github.com/Dhoini/billing-scheduler/internal/billing"
	"github.com/Dhoini/billing-scheduler/internal/domain"
)

// Gateway settles one transaction and reports the verdict. A returned error
// (transport problem, timeout) is treated by callers as a failure verdict.
type Gateway interface {
	Settle(ctx context.Context, txn domain.Transaction) (billing.Verdict, error)
}

// Func adapts a plain function to the Gateway interface
type Func func(ctx context.Context, txn domain.Transaction) (billing.Verdict, error)

// Settle calls f
func (f Func) Settle(ctx context.Context, txn domain.Transaction) (billing.Verdict, error) {
	return f(ctx, txn)
}

// Always returns a gateway that answers every call with v
func Always(v billing.Verdict) Gateway {
	return Func(func(context.Context, domain.Transaction) (billing.Verdict, error) {
		return v, nil
	})
}
