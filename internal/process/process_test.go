package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShutdownCancelsContextAndWaitsForGoroutines(t *testing.T) {
	p := NewContext()
	done := make(chan struct{})

	p.Go(func() {
		<-p.Context().Done()
		close(done)
	})

	p.Shutdown()

	select {
	case <-done:
	default:
		t.Fatal("Shutdown returned before goroutine observed cancellation")
	}
	require.Error(t, p.Context().Err())
}

func TestGoTracksMultipleGoroutines(t *testing.T) {
	p := NewContext()
	const n = 5
	started := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		p.Go(func() {
			started <- struct{}{}
			<-p.Context().Done()
		})
	}

	for i := 0; i < n; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("goroutine did not start in time")
		}
	}

	p.Shutdown()
}
