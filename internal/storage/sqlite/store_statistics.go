package sqlite

import (
	"context"
	"fmt"

	"github.com/warden-auth/warden/internal/storage"
)

// GetStatistics reports aggregate record counts for operational visibility.
func (s *Store) GetStatistics(ctx context.Context) (storage.Statistics, error) {
	if err := s.ensureDB(); err != nil {
		return storage.Statistics{}, err
	}

	var stats storage.Statistics
	row := s.sqlDB.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM credentials),
			(SELECT COUNT(*) FROM web_sessions WHERE revoked_at IS NULL)
	`)
	if err := row.Scan(&stats.Users, &stats.Credentials, &stats.WebSessions); err != nil {
		return storage.Statistics{}, fmt.Errorf("query statistics: %w", err)
	}
	return stats, nil
}
