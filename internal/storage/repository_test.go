package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStoreNotConfigured(t *testing.T) {
	var s *Store
	ctx := context.Background()

	if _, err := s.InsertRun(ctx, RebaseRun{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("InsertRun on nil store should fail with ErrNotConfigured, got %v", err)
	}
	if _, err := s.ListRecentRuns(ctx, 10); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("ListRecentRuns on nil store should fail with ErrNotConfigured, got %v", err)
	}
	if _, err := s.ListRunsBetween(ctx, time.Unix(0, 0), time.Now()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("ListRunsBetween on nil store should fail with ErrNotConfigured, got %v", err)
	}
	if _, _, err := s.TryAdvisoryLock(ctx, 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("TryAdvisoryLock on nil store should fail with ErrNotConfigured, got %v", err)
	}
	s.Close()
}

var (
	_ RunStore       = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
