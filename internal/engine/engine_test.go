//go:build linux

package engine_test

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-qos/api"
	"github.com/momentics/hioload-qos/control"
	"github.com/momentics/hioload-qos/fake"
	"github.com/momentics/hioload-qos/internal/engine"
	"github.com/momentics/hioload-qos/internal/qosnode"
	tu "github.com/momentics/hioload-qos/internal/testutil"
	"github.com/momentics/hioload-qos/reactor"
)

const settle = 2 * time.Second

type harness struct {
	eng    *engine.Engine
	opener *fake.Opener
	log    *tu.ReleaseLog
}

func start(t *testing.T, mutate func(*engine.Config)) *harness {
	t.Helper()
	h := &harness{
		opener: fake.NewOpener(qosnode.Opener{}),
		log:    tu.NewReleaseLog(1024),
	}
	cfg := engine.Config{
		Opener:    h.opener,
		OnRelease: h.log.Hook,
		CPU:       -1,
		MaxEvents: reactor.DefaultMaxEvents,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	eng, err := engine.New(cfg)
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	t.Cleanup(eng.Stop)
	h.eng = eng
	return h
}

func TestNew_RequiresOpener(t *testing.T) {
	_, err := engine.New(engine.Config{})
	assert.Error(t, err)
}

func TestEngine_HandleCloseReleases(t *testing.T) {
	h := start(t, nil)
	node := tu.Node(t, "cpu_dma_latency")

	token, err := h.eng.SubmitHandle(context.Background(), node, 25, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, h.eng.Active())

	raw, err := os.ReadFile(node)
	require.NoError(t, err)
	assert.Equal(t, uint32(25), binary.NativeEndian.Uint32(raw))

	require.NoError(t, token.Close())
	rel := h.log.Next(t, settle)
	assert.Equal(t, api.ReasonLeaseClosed, rel.Reason)
	assert.Equal(t, node, rel.Path)
	assert.Equal(t, int32(25), rel.Value)
	assert.Zero(t, h.eng.Active())
	h.log.None(t, 50*time.Millisecond)
}

func TestEngine_HandleOpenFailureIsReturned(t *testing.T) {
	h := start(t, nil)

	token, err := h.eng.SubmitHandle(context.Background(), "/nonexistent/qos", 1, 0)
	require.Error(t, err)
	assert.Nil(t, token)
	assert.True(t, errors.Is(err, api.ErrOpenFailure))
	assert.True(t, errors.Is(err, unix.ENOENT))
	assert.Zero(t, h.eng.Active())
}

func TestEngine_TimedReleaseIsNotEarly(t *testing.T) {
	h := start(t, nil)
	node := tu.Node(t, "network_latency")
	const delay = 60 * time.Millisecond

	began := time.Now()
	_, err := h.eng.SubmitTimed(node, 3, delay)
	require.NoError(t, err)

	rel := h.log.Next(t, delay+settle)
	assert.Equal(t, api.ReasonExpired, rel.Reason)
	assert.GreaterOrEqual(t, time.Since(began), delay)
	assert.GreaterOrEqual(t, rel.Held, delay)
	assert.Less(t, rel.Held, delay+50*time.Millisecond, "released %v after the deadline", rel.Held-delay)
	assert.Zero(t, h.eng.Active())
	assert.Zero(t, h.eng.Pending())
}

func TestEngine_TimedOpenFailureArmsNothing(t *testing.T) {
	h := start(t, nil)
	h.opener.FailPath("/dev/refused", api.ErrOpenFailure)

	_, err := h.eng.SubmitTimed("/dev/refused", 1, time.Hour)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(h.opener.Calls()) == 1 }, settle, time.Millisecond)
	require.Eventually(t, func() bool { return h.eng.Pending() == 0 }, settle, time.Millisecond)
	assert.Zero(t, h.eng.Active())
	h.log.None(t, 50*time.Millisecond)
}

func TestEngine_CloseRacingExpiryReleasesOnce(t *testing.T) {
	h := start(t, nil)
	node := tu.Node(t, "node")
	before := tu.OpenFDs(t)
	const rounds = 40

	for i := range rounds {
		token, err := h.eng.SubmitHandle(context.Background(), node, int32(i), 2*time.Millisecond)
		require.NoError(t, err)
		time.Sleep(time.Duration(i%4) * time.Millisecond)
		require.NoError(t, token.Close())
	}

	seen := make(map[uint64]api.ReleaseReason, rounds)
	for range rounds {
		rel := h.log.Next(t, settle)
		_, dup := seen[rel.ID]
		require.False(t, dup, "resource %d released twice", rel.ID)
		assert.Contains(t, []api.ReleaseReason{api.ReasonExpired, api.ReasonLeaseClosed}, rel.Reason)
		seen[rel.ID] = rel.Reason
	}
	h.log.None(t, 50*time.Millisecond)
	assert.Zero(t, h.eng.Active())
	assert.Equal(t, before, tu.OpenFDs(t))
}

type pathGatedOpener struct {
	path    string
	entered chan struct{}
	gate    chan struct{}
	inner   api.NodeOpener
}

func (o pathGatedOpener) Open(path string, value int32) (int, error) {
	if path == o.path {
		close(o.entered)
		<-o.gate
	}
	return o.inner.Open(path, value)
}

func TestEngine_CloseBeforeDueExpiryReleasesOnce(t *testing.T) {
	blocker := tu.Node(t, "blocker")
	opener := pathGatedOpener{
		path:    blocker,
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
		inner:   qosnode.Opener{},
	}
	h := start(t, func(c *engine.Config) { c.Opener = opener })
	node := tu.Node(t, "node")
	const timeout = 100 * time.Millisecond

	token, err := h.eng.SubmitHandle(context.Background(), node, 1, timeout)
	require.NoError(t, err)
	armed := time.Now()

	// park the worker inside an open so neither the hangup nor the expiry
	// can be handled yet
	_, err = h.eng.SubmitTimed(blocker, 2, time.Hour)
	require.NoError(t, err)
	<-opener.entered

	require.NoError(t, token.Close())
	time.Sleep(time.Until(armed.Add(2 * timeout)))
	close(opener.gate)

	rel := h.log.Next(t, settle)
	assert.Equal(t, api.ReasonLeaseClosed, rel.Reason)
	assert.Equal(t, node, rel.Path)
	h.log.None(t, 50*time.Millisecond)
	assert.Equal(t, 1, h.eng.Active(), "only the blocker stays open")
}

func TestEngine_HandleTimeoutExpiresLease(t *testing.T) {
	h := start(t, nil)
	node := tu.Node(t, "node")

	token, err := h.eng.SubmitHandle(context.Background(), node, 1, 20*time.Millisecond)
	require.NoError(t, err)
	defer token.Close()

	rel := h.log.Next(t, settle)
	assert.Equal(t, api.ReasonExpired, rel.Reason)

	// Closing the token after expiry must not release again.
	require.NoError(t, token.Close())
	h.log.None(t, 50*time.Millisecond)
}

func TestEngine_KeysStrictlyIncreasePerGoroutine(t *testing.T) {
	h := start(t, nil)
	node := tu.Node(t, "node")

	var (
		mu  sync.Mutex
		all = make(map[uint64]struct{})
	)
	var g errgroup.Group
	for range 4 {
		g.Go(func() error {
			var last uint64
			for range 25 {
				key, err := h.eng.SubmitTimed(node, 0, time.Millisecond)
				if err != nil {
					return err
				}
				if key <= last {
					return errors.New("key did not increase")
				}
				last = key
				mu.Lock()
				all[key] = struct{}{}
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, all, 100)

	for range 100 {
		h.log.Next(t, settle)
	}
}

func TestEngine_ConcurrentHandlesAreAllActive(t *testing.T) {
	h := start(t, nil)
	const n = 16

	tokens := make([]*os.File, n)
	var g errgroup.Group
	for i := range n {
		node := tu.Node(t, "node")
		g.Go(func() error {
			tok, err := h.eng.SubmitHandle(context.Background(), node, int32(i), 0)
			tokens[i] = tok
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, n, h.eng.Active())

	for _, tok := range tokens {
		require.NoError(t, tok.Close())
	}
	for range n {
		assert.Equal(t, api.ReasonLeaseClosed, h.log.Next(t, settle).Reason)
	}
	assert.Zero(t, h.eng.Active())
}

type gatedOpener struct {
	gate  chan struct{}
	inner api.NodeOpener
}

func (o gatedOpener) Open(path string, value int32) (int, error) {
	<-o.gate
	return o.inner.Open(path, value)
}

func TestEngine_AbandonedResultIsReleased(t *testing.T) {
	gate := make(chan struct{})
	h := start(t, func(c *engine.Config) {
		c.Opener = gatedOpener{gate: gate, inner: qosnode.Opener{}}
	})
	node := tu.Node(t, "node")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	token, err := h.eng.SubmitHandle(ctx, node, 1, 0)
	assert.Nil(t, token)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
	rel := h.log.Next(t, settle)
	assert.Equal(t, api.ReasonAbandoned, rel.Reason)
	assert.Zero(t, h.eng.Active())
}

func TestEngine_StopReleasesOutstanding(t *testing.T) {
	h := start(t, nil)
	node := tu.Node(t, "node")

	token, err := h.eng.SubmitHandle(context.Background(), node, 1, 0)
	require.NoError(t, err)
	defer token.Close()
	_, err = h.eng.SubmitTimed(node, 2, time.Hour)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.eng.Active() == 2 }, settle, time.Millisecond)

	h.eng.Stop()
	assert.Equal(t, api.ReasonShutdown, h.log.Next(t, settle).Reason)
	assert.Equal(t, api.ReasonShutdown, h.log.Next(t, settle).Reason)
	assert.Zero(t, h.eng.Active())

	_, err = h.eng.SubmitHandle(context.Background(), node, 1, 0)
	assert.ErrorIs(t, err, api.ErrEngineClosed)
	_, err = h.eng.SubmitTimed(node, 1, time.Second)
	assert.ErrorIs(t, err, api.ErrEngineClosed)

	// The lease was already reclaimed; closing the token is harmless.
	require.NoError(t, token.Close())
	h.log.None(t, 50*time.Millisecond)
}

func TestEngine_AttachFailureClosesNode(t *testing.T) {
	refused := errors.New("register refused")
	fr := &fake.Reactor{RegisterErr: refused}
	h := start(t, func(c *engine.Config) {
		c.NewReactor = func(n int) (api.Reactor, error) {
			inner, err := reactor.New(n)
			if err != nil {
				return nil, err
			}
			fr.Inner = inner
			return fr, nil
		}
	})
	node := tu.Node(t, "node")
	before := tu.OpenFDs(t)

	token, err := h.eng.SubmitHandle(context.Background(), node, 1, 0)
	require.Error(t, err)
	assert.Nil(t, token)
	assert.ErrorIs(t, err, api.ErrAttachFailure)
	assert.ErrorIs(t, err, refused)

	assert.Equal(t, api.ReasonAttachFailed, h.log.Next(t, settle).Reason)
	assert.Equal(t, before, tu.OpenFDs(t))
	assert.Zero(t, fr.Registered())
}

func TestEngine_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := start(t, func(c *engine.Config) { c.Metrics = control.NewMetrics(reg) })
	node := tu.Node(t, "node")

	token, err := h.eng.SubmitHandle(context.Background(), node, 1, 0)
	require.NoError(t, err)
	require.NoError(t, token.Close())
	h.log.Next(t, settle)

	_, err = h.eng.SubmitHandle(context.Background(), "/nonexistent/qos", 1, 0)
	require.Error(t, err)

	n, err := testutil.GatherAndCount(reg, "qos_releases_total", "qos_open_failures_total", "qos_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
