// Package probe reconciles the cached account validity map with the remote
// authority via the batch status endpoint.
package probe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rfavre/ovhsentry/internal/domain"
	"github.com/rfavre/ovhsentry/internal/metrics"
)

// Probe runs batch status checks and owns the cached AccountStatusMap.
//
// Callers may invoke Refresh concurrently; every call completes and returns
// its own result, but the cached map only ever moves forward: each refresh
// takes a sequence number at the start and a completion whose sequence is
// older than the last applied one is dropped, so a slow response cannot
// overwrite the result of a refresh triggered by a later account-list change.
type Probe struct {
	backend              domain.BackendClient
	clock                clockwork.Clock
	treatEmptyAsDegraded bool

	mu          sync.Mutex
	statuses    map[string]domain.AccountStatus
	nextSeq     uint64
	lastApplied uint64
	lastRefresh time.Time
}

var _ domain.StatusProber = (*Probe)(nil)

// New creates a probe. treatEmptyAsDegraded controls the heuristic for an
// empty batch response while accounts exist: true treats it as a degraded
// batch endpoint (every account marked unavailable), false as an empty
// result.
func New(backend domain.BackendClient, clock clockwork.Clock, treatEmptyAsDegraded bool) *Probe {
	return &Probe{
		backend:              backend,
		clock:                clock,
		treatEmptyAsDegraded: treatEmptyAsDegraded,
		statuses:             make(map[string]domain.AccountStatus),
	}
}

// Refresh checks the given accounts against the remote authority and returns
// a complete status map for them. It never returns an error: a failed batch
// call marks every account invalid with the failure reason instead.
func (p *Probe) Refresh(ctx context.Context, accounts []domain.Account) map[string]domain.AccountStatus {
	p.mu.Lock()
	p.nextSeq++
	seq := p.nextSeq
	prev := p.statuses
	p.mu.Unlock()

	result := p.buildMap(ctx, accounts, prev)

	p.mu.Lock()
	if seq > p.lastApplied {
		p.lastApplied = seq
		p.statuses = result
		p.lastRefresh = p.clock.Now()
	} else {
		metrics.ProbeRefreshTotal.WithLabelValues("stale_dropped").Inc()
		slog.Debug("Dropped stale status refresh", "seq", seq, "last_applied", p.lastApplied)
	}
	p.mu.Unlock()

	return copyStatuses(result)
}

func (p *Probe) buildMap(ctx context.Context, accounts []domain.Account, prev map[string]domain.AccountStatus) map[string]domain.AccountStatus {
	result := make(map[string]domain.AccountStatus, len(accounts))
	if len(accounts) == 0 {
		return result
	}

	// Accounts without a full credential triple are never probed.
	probed := 0
	for _, acc := range accounts {
		if !acc.HasCompleteCredentials() {
			result[acc.ID] = domain.AccountStatus{Valid: false, Error: domain.StatusUnavailable}
		} else {
			probed++
		}
	}
	if probed == 0 {
		metrics.ProbeRefreshTotal.WithLabelValues("ok").Inc()
		return result
	}

	entries, err := p.backend.GetAccountStatuses(ctx)
	if err != nil {
		metrics.ProbeRefreshTotal.WithLabelValues("failed").Inc()
		slog.Warn("Batch status check failed", "error", err, "accounts", len(accounts))
		for _, acc := range accounts {
			if _, marked := result[acc.ID]; !marked {
				result[acc.ID] = domain.AccountStatus{Valid: false, Error: err.Error()}
			}
		}
		return result
	}

	if len(entries) == 0 {
		if p.treatEmptyAsDegraded {
			metrics.ProbeRefreshTotal.WithLabelValues("empty_degraded").Inc()
			slog.Warn("Batch status endpoint returned no entries for known accounts, marking all unavailable", "accounts", len(accounts))
			for _, acc := range accounts {
				result[acc.ID] = domain.AccountStatus{Valid: false, Error: domain.StatusUnavailable}
			}
		} else {
			metrics.ProbeRefreshTotal.WithLabelValues("ok").Inc()
		}
		return result
	}

	metrics.ProbeRefreshTotal.WithLabelValues("ok").Inc()

	known := make(map[string]domain.AccountStatus, len(entries))
	for _, entry := range entries {
		if entry.ID == "" {
			continue
		}
		known[entry.ID] = domain.AccountStatus{Valid: entry.Valid, Error: entry.Error}
	}

	for _, acc := range accounts {
		if _, marked := result[acc.ID]; marked {
			continue // incomplete credentials, local sentinel wins
		}
		if status, ok := known[acc.ID]; ok {
			result[acc.ID] = status
		} else if status, ok := prev[acc.ID]; ok {
			// Absent from the response: keep what we knew, a later
			// refresh will fill it in.
			result[acc.ID] = status
		}
	}
	return result
}

// Statuses returns a snapshot of the cached status map.
func (p *Probe) Statuses() map[string]domain.AccountStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyStatuses(p.statuses)
}

// LastRefreshedAt reports when the cached map was last replaced.
func (p *Probe) LastRefreshedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRefresh
}

func copyStatuses(in map[string]domain.AccountStatus) map[string]domain.AccountStatus {
	out := make(map[string]domain.AccountStatus, len(in))
	for id, status := range in {
		out[id] = status
	}
	return out
}
