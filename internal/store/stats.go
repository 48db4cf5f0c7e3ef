package store

import (
	"context"
	"errors"
	"fmt"
)

type userCounter interface {
	Count(ctx context.Context) (int64, error)
	CountBelowBalance(ctx context.Context, threshold float64) (int64, error)
}

// StatsProvider exposes user counts for basic diagnostics without leaking
// database internals to callers.
type StatsProvider struct {
	users     userCounter
	threshold float64
}

// NewStatsProvider constructs a StatsProvider; threshold is the low balance
// cutoff used by CountLowBalanceUsers.
func NewStatsProvider(users userCounter, threshold float64) *StatsProvider {
	return &StatsProvider{
		users:     users,
		threshold: threshold,
	}
}

// CountUsers returns the number of registered users.
func (p *StatsProvider) CountUsers(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.users == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.users.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}

	return count, nil
}

// CountLowBalanceUsers returns the number of users below the low balance
// threshold.
func (p *StatsProvider) CountLowBalanceUsers(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.users == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.users.CountBelowBalance(ctx, p.threshold)
	if err != nil {
		return 0, fmt.Errorf("count low balance users: %w", err)
	}

	return count, nil
}
