package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterAppliesInOrder(t *testing.T) {
	w := NewWriter(NewMemory(), 16)
	defer w.Close()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		require.True(t, w.Enqueue("step", func(context.Context, Store) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Flush(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestWriterSurvivesFailingWrites(t *testing.T) {
	m := NewMemory()
	w := NewWriter(m, 16)
	defer w.Close()

	w.Enqueue("fail", func(context.Context, Store) error { return errors.New("disk on fire") })
	w.Enqueue("panic", func(context.Context, Store) error { panic("boom") })
	w.Enqueue("save", func(ctx context.Context, s Store) error {
		return s.SaveSoloGame(ctx, &SoloGame{ID: "g", Username: "u", TotalScore: 10})
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Flush(ctx))

	_, total, err := m.SoloRank(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestWriterRejectsAfterClose(t *testing.T) {
	w := NewWriter(NewMemory(), 1)
	w.Close()
	w.Close()
	assert.False(t, w.Enqueue("late", func(context.Context, Store) error { return nil }))
	assert.NoError(t, w.Flush(context.Background()))
}
