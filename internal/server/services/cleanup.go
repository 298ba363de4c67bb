package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/accountsrv/internal/logging"
	"github.com/dmitrijs2005/accountsrv/internal/server/repositories/repomanager"
)

// CleanupService periodically removes expired rows from every token table.
// Consume already filters on the expiry column, so the sweep is purely about
// keeping the tables small.
type CleanupService struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	logger   logging.Logger
	interval time.Duration
}

// NewCleanupService constructs a CleanupService.
func NewCleanupService(db *sql.DB, repos repomanager.RepositoryManager, logger logging.Logger, interval time.Duration) *CleanupService {
	return &CleanupService{
		db:       db,
		repos:    repos,
		logger:   logger.With("module", "cleanup"),
		interval: interval,
	}
}

// Run sweeps once immediately and then on every tick until the context is
// cancelled.
func (s *CleanupService) Run(ctx context.Context) {
	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep removes expired rows from all token tables. Failures are logged per
// table; a broken sweep of one table does not stop the others.
func (s *CleanupService) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	tables := []struct {
		name   string
		delete func(context.Context, time.Time) (int64, error)
	}{
		{"login_tokens", s.repos.LoginTokens(s.db).DeleteExpired},
		{"account_tokens", s.repos.AccountTokens(s.db).DeleteExpired},
		{"reset_codes", s.repos.ResetCodes(s.db).DeleteExpired},
		{"verify_tokens", s.repos.VerifyTokens(s.db).DeleteExpired},
	}

	for _, t := range tables {
		removed, err := t.delete(ctx, now)
		if err != nil {
			s.logger.Error(ctx, "sweep failed", "op", "cleanup", "table", t.name, "error", err.Error())
			continue
		}
		if removed > 0 {
			s.logger.Debug(ctx, "removed expired rows", "op", "cleanup", "table", t.name, "count", removed)
		}
	}
}
