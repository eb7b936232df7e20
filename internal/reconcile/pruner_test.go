package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
)

func TestPruner_RunsImmediately(t *testing.T) {
	repo := &failingRepo{}
	svc := newService(t, repo, Options{})

	p := NewPruner(svc, time.Hour, logging.Discard())
	p.Start(context.Background())

	require.Eventually(t, func() bool { return repo.purgeCount() >= 2 }, 2*time.Second, 10*time.Millisecond)
	p.Stop()

	// One purge covers the audit and access classes.
	require.Equal(t, 2, repo.purgeCount())
}

func TestPruner_Disabled(t *testing.T) {
	repo := &failingRepo{}
	p := NewPruner(newService(t, repo, Options{}), 0, logging.Discard())

	p.Start(context.Background())
	p.Stop()

	require.Zero(t, repo.purgeCount())
}

func TestPruner_StopsOnContextCancel(t *testing.T) {
	repo := &failingRepo{}
	p := NewPruner(newService(t, repo, Options{}), 10*time.Millisecond, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	require.Eventually(t, func() bool { return repo.purgeCount() >= 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pruner did not stop")
	}
}
