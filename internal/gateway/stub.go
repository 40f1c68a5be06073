package gateway

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Dhoini/billing-scheduler/internal/billing"
	"github.com/Dhoini/billing-scheduler/internal/domain"
	"github.com/Dhoini/billing-scheduler/pkg/logger"
)

// StubConfig конфигурация заглушки платежного шлюза
type StubConfig struct {
	SuccessRate float64
	Latency     time.Duration
	// Seed фиксирует генератор; 0 означает случайное зерно
	Seed uint64
}

// Stub simulates a gateway round-trip: it waits Latency and then succeeds
// with probability SuccessRate.
type Stub struct {
	cfg StubConfig
	mu  sync.Mutex
	rnd *rand.Rand
	log *logger.Logger
}

// NewStub создает новую заглушку шлюза
func NewStub(cfg StubConfig, log *logger.Logger) (*Stub, error) {
	if cfg.SuccessRate < 0 || cfg.SuccessRate > 1 {
		return nil, fmt.Errorf("gateway stub: success rate %v outside [0,1]", cfg.SuccessRate)
	}
	if cfg.Latency < 0 {
		return nil, fmt.Errorf("gateway stub: negative latency %s", cfg.Latency)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	return &Stub{
		cfg: cfg,
		rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		log: log,
	}, nil
}

// Settle waits for the simulated round-trip and draws a verdict
func (s *Stub) Settle(ctx context.Context, txn domain.Transaction) (billing.Verdict, error) {
	if s.cfg.Latency > 0 {
		timer := time.NewTimer(s.cfg.Latency)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return billing.VerdictFailure, fmt.Errorf("gateway stub: settle %s: %w", txn.ID, ctx.Err())
		}
	}

	s.mu.Lock()
	draw := s.rnd.Float64()
	s.mu.Unlock()

	verdict := billing.Verdict(draw < s.cfg.SuccessRate)
	s.log.Debugw("Gateway verdict", "transactionID", txn.ID, "verdict", verdict.String())
	return verdict, nil
}
