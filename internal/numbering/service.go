package numbering

import (
	"context"
	"fmt"
	"time"
)

// RepositoryPort abstracts sequence storage.
type RepositoryPort interface {
	NextValue(ctx context.Context, kind Kind, period string) (int64, error)
}

// Service hands out collision-free document numbers.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Next returns the next number for kind, formatted <prefix><yyyymmdd>-<seq>.
// Sequences reset per day; a rolled-back posting leaves a gap, never a duplicate.
func (s *Service) Next(ctx context.Context, kind Kind, at time.Time) (string, error) {
	prefix := kind.Prefix()
	if prefix == "" {
		return "", ErrUnknownKind
	}
	period := at.UTC().Format("20060102")
	value, err := s.repo.NextValue(ctx, kind, period)
	if err != nil {
		return "", fmt.Errorf("numbering: next %s: %w", kind, err)
	}
	return fmt.Sprintf("%s%s-%04d", prefix, period, value), nil
}
