package network_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldstack/terminal-core/network"
)

type recordingClock struct {
	online  int32
	offline int32
}

func (c *recordingClock) SetOnline(ctx context.Context) error {
	atomic.AddInt32(&c.online, 1)
	return nil
}

func (c *recordingClock) SetOffline(ctx context.Context) error {
	atomic.AddInt32(&c.offline, 1)
	return nil
}

// Hysteresis: three consecutive failed probes mark the
// terminal offline; a single success restores it immediately.
func TestMonitor_HysteresisThreeFailuresToOffline(t *testing.T) {
	var healthy int32 = 1
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&healthy) == 1 {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	clock := &recordingClock{}
	m := network.New(srv.URL, 10*time.Millisecond, 200*time.Millisecond, 3, clock)
	events := m.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	require.True(t, m.IsOnline())

	atomic.StoreInt32(&healthy, 0)

	select {
	case ev := <-events:
		assert.False(t, ev.Online)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for offline transition")
	}
	assert.False(t, m.IsOnline())
	assert.GreaterOrEqual(t, atomic.LoadInt32(&clock.offline), int32(1))

	atomic.StoreInt32(&healthy, 1)
	select {
	case ev := <-events:
		assert.True(t, ev.Online)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for online transition")
	}
	assert.True(t, m.IsOnline())
}

func TestMonitor_OnReconnectFiresOnRestoration(t *testing.T) {
	var healthy int32 = 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&healthy) == 1 {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	var reconnects int32
	m := network.New(srv.URL, 10*time.Millisecond, 200*time.Millisecond, 2, nil)
	m.OnReconnect = func() { atomic.AddInt32(&reconnects, 1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	// Starts online by default; must first accumulate failures before
	// a reconnect signal is meaningful.
	time.Sleep(60 * time.Millisecond)
	require.False(t, m.IsOnline())

	atomic.StoreInt32(&healthy, 1)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&reconnects) > 0
	}, 2*time.Second, 10*time.Millisecond)
}
