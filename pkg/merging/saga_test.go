package merging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaga_UndoesInReverseOrder(t *testing.T) {
	var s saga
	var undone []string
	undo := func(name string) func(context.Context) error {
		return func(context.Context) error {
			undone = append(undone, name)
			return nil
		}
	}

	require.NoError(t, s.do("first", func() error { return nil }, undo("first")))
	require.NoError(t, s.do("second", func() error { return nil }, undo("second")))
	err := s.do("third", func() error { return errBoom }, undo("third"))
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorContains(t, err, "third")

	failed, err := s.compensate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Equal(t, []string{"second", "first"}, undone)
}

func TestSaga_KeepsUndoingAfterFailure(t *testing.T) {
	var s saga
	var undone []string

	require.NoError(t, s.do("first", func() error { return nil }, func(context.Context) error {
		undone = append(undone, "first")
		return nil
	}))
	require.NoError(t, s.do("second", func() error { return nil }, func(context.Context) error {
		return errBoom
	}))

	failed, err := s.compensate(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, []string{"second"}, failed)
	assert.Equal(t, []string{"first"}, undone)
}

func TestSaga_UndoRunsAfterDeadline(t *testing.T) {
	var s saga
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, s.do("step", func() error { return nil }, func(ctx context.Context) error {
		return ctx.Err()
	}))
	cancel()

	_, err := s.compensate(ctx)
	assert.NoError(t, err)
}
