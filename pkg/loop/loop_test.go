package loop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostNeverRunsSynchronously(t *testing.T) {
	l := New()

	ran := false
	l.Post(func() { ran = true })
	assert.False(t, ran)
	assert.Equal(t, 1, l.Pending())

	assert.Equal(t, 1, l.RunUntilIdle())
	assert.True(t, ran)
}

func TestRunUntilIdleRunsNestedPostsInOrder(t *testing.T) {
	l := New()

	var order []int
	l.Post(func() {
		order = append(order, 1)
		l.Post(func() { order = append(order, 3) })
	})
	l.Post(func() { order = append(order, 2) })

	assert.Equal(t, 3, l.RunUntilIdle())
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, 0, l.Pending())
}

func TestRunAndCall(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	v := 0
	l.Call(func() { v = 42 })
	assert.Equal(t, 42, v)

	l.Stop()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}

	// posts after Stop are dropped
	l.Post(func() { v = 0 })
	assert.Equal(t, 0, l.Pending())
	assert.Equal(t, 42, v)
}

func TestRunTwice(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	l.Call(func() {})

	assert.ErrorIs(t, l.Run(ctx), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop did not exit on cancel")
	}
}
