package kv

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type nopCloser struct{ closed bool }

func (n *nopCloser) Close() error {
	n.closed = true
	return nil
}

func TestStartConcurrencyConvergesOnSingleDB(t *testing.T) {
	require.Equal(t, 0, Active(), "Active() before test")

	const n = 5
	var wg sync.WaitGroup
	results := make([]*DB, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			db, err := Start(context.Background(), "test", func(ctx context.Context, facility string) (Closer, error) {
				return &nopCloser{}, nil
			})
			if err != nil {
				t.Errorf("Start: %v", err)
			}
			results[i] = db
		}(i)
	}
	wg.Wait()

	db := results[0]
	require.Equal(t, 1, Active())
	require.Equal(t, n, db.refs)
	for i := 1; i < n; i++ {
		require.Same(t, db, results[i], "result %d is not the shared singleton", i)
	}

	for i := 0; i < n; i++ {
		require.NoError(t, db.Stop(false))
	}
	require.Equal(t, 0, Active(), "Active() after all stopped")
	require.ErrorIs(t, db.Stop(false), ErrInactive)
}

func TestStartDistinctFacilities(t *testing.T) {
	const n = 3
	for i := 0; i < n; i++ {
		facility := fmt.Sprintf("facility-%d", i)
		db, err := Start(context.Background(), facility, func(ctx context.Context, f string) (Closer, error) {
			return &nopCloser{}, nil
		})
		require.NoError(t, err)
		defer db.Stop(true)
	}
	require.Equal(t, n, Active())
}
