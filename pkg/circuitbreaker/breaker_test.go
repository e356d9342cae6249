package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpensAfterThreshold(t *testing.T) {
	cb := New("test", Config{FailureThreshold: 3, Cooldown: time.Minute})
	failing := func() error { return errors.New("down") }

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), failing)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrCircuitOpen)
	}

	err := cb.Execute(context.Background(), failing)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, StateOpen, cb.State())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New("test", Config{FailureThreshold: 2, Cooldown: time.Minute})

	cb.Execute(context.Background(), func() error { return errors.New("down") })
	cb.Execute(context.Background(), func() error { return nil })
	cb.Execute(context.Background(), func() error { return errors.New("down") })

	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenProbeCloses(t *testing.T) {
	cb := New("test", Config{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	cb.Execute(context.Background(), func() error { return errors.New("down") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(context.Background(), func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenProbeReopens(t *testing.T) {
	cb := New("test", Config{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	cb.Execute(context.Background(), func() error { return errors.New("down") })
	time.Sleep(20 * time.Millisecond)

	cb.Execute(context.Background(), func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.State())
}
