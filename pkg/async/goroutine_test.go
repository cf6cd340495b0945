package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSafeGo_RunsTask(t *testing.T) {
	var ran atomic.Bool
	done := make(chan struct{})

	SafeGo(context.Background(), logrus.New(), time.Second, "test", func(ctx context.Context) error {
		ran.Store(true)
		close(done)
		return nil
	})

	<-done
	assert.True(t, ran.Load())
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})

	assert.NotPanics(t, func() {
		SafeGo(context.Background(), logrus.New(), time.Second, "panicky", func(ctx context.Context) error {
			defer close(done)
			panic("boom")
		})
		<-done
	})
}

func TestSafeGo_LogsError(t *testing.T) {
	done := make(chan struct{})
	SafeGo(context.Background(), nil, 0, "failing", func(ctx context.Context) error {
		close(done)
		return errors.New("expected")
	})
	<-done
}

func TestSafeGo_TimeoutPropagates(t *testing.T) {
	expired := make(chan struct{})
	SafeGo(context.Background(), logrus.New(), 10*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		close(expired)
		return ctx.Err()
	})

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("task context never expired")
	}
}
