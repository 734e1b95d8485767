package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	mu        sync.Mutex
	connected bool
	err       error
	calls     int
}

func (f *fakePinger) Ping(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if _, ok := ctx.Deadline(); !ok {
		return false, errors.New("no deadline")
	}
	return f.connected, f.err
}

func (f *fakePinger) set(connected bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected, f.err = connected, err
}

func TestCheck_TransitionsNotifyOnce(t *testing.T) {
	p := &fakePinger{}
	m := New(p, time.Second, nil)

	var got []bool
	m.OnChange(func(_ context.Context, online bool) { got = append(got, online) })

	ctx := context.Background()
	assert.False(t, m.Check(ctx))
	assert.Empty(t, got, "offline to offline is not a transition")

	p.set(true, nil)
	assert.True(t, m.Check(ctx))
	assert.True(t, m.Check(ctx))
	assert.True(t, m.Online())

	p.set(false, errors.New("dial tcp: refused"))
	assert.False(t, m.Check(ctx))

	assert.Equal(t, []bool{true, false}, got)
}

func TestCheck_ServerErrorCountsAsOnline(t *testing.T) {
	p := &fakePinger{connected: true, err: errors.New("permission denied")}
	m := New(p, time.Second, nil)

	assert.True(t, m.Check(context.Background()))
}

func TestCheck_NilPinger(t *testing.T) {
	m := New(nil, time.Second, nil)
	assert.False(t, m.Check(context.Background()))
	assert.False(t, m.Online())
}

func TestRun_StopsOnCancel(t *testing.T) {
	p := &fakePinger{connected: true}
	m := New(p, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, m.Online, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.GreaterOrEqual(t, p.calls, 1)
}
