// Package audit re-verifies the compliance chain on a schedule so tampering
// done directly in the database is noticed without waiting for a client to
// call /verify.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/jmerrifield20/ComplianceLedger/internal/chain"
	"go.uber.org/zap"
)

// Verifier is the part of chain.Ledger the auditor needs.
type Verifier interface {
	Verify(ctx context.Context) (chain.Result, error)
}

// Config holds audit scheduling configuration.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// AlertFunc is called once each time the chain goes from intact to invalid.
type AlertFunc func(ctx context.Context, res chain.Result)

// Status is the outcome of the most recent audit.
type Status struct {
	Result    chain.Result
	CheckedAt time.Time
	Err       error
}

// Auditor runs periodic full-chain verification.
type Auditor struct {
	verifier Verifier
	cfg      Config
	onAlert  AlertFunc
	logger   *zap.Logger

	mu          sync.Mutex
	last        Status
	compromised bool
}

// New creates a new Auditor.
func New(verifier Verifier, cfg Config, logger *zap.Logger) *Auditor {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Minute
	}
	return &Auditor{verifier: verifier, cfg: cfg, logger: logger}
}

// SetAlert configures the callback fired when the chain becomes invalid.
func (a *Auditor) SetAlert(fn AlertFunc) {
	a.onAlert = fn
}

// Start runs the audit loop until done is closed.
func (a *Auditor) Start(done <-chan struct{}) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
			a.Check(ctx)
			cancel()
		case <-done:
			return
		}
	}
}

// Check verifies the chain once and records the outcome.
func (a *Auditor) Check(ctx context.Context) Status {
	res, err := a.verifier.Verify(ctx)
	st := Status{Result: res, CheckedAt: time.Now().UTC(), Err: err}

	a.mu.Lock()
	a.last = st
	if err != nil {
		a.mu.Unlock()
		a.logger.Error("audit: verify ledger", zap.Error(err))
		return st
	}

	// An empty chain has nothing to tamper with.
	invalid := !res.Valid && res.Reason != chain.ReasonEmptyChain
	wasCompromised := a.compromised
	a.compromised = invalid
	a.mu.Unlock()

	switch {
	case invalid && !wasCompromised:
		a.logger.Warn("audit: ledger compromised",
			zap.String("reason", string(res.Reason)),
			zap.Intp("failure_index", res.FailureIndex),
			zap.Int("length", res.Length),
		)
		if a.onAlert != nil {
			a.onAlert(ctx, res)
		}
	case !invalid && wasCompromised:
		a.logger.Info("audit: ledger intact again", zap.Int("length", res.Length))
	}
	return st
}

// Last returns the most recent audit outcome. CheckedAt is zero before the
// first check.
func (a *Auditor) Last() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
