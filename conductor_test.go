package mutegrid

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IDisposable/mutegrid/internal/mute"
	"github.com/IDisposable/mutegrid/internal/peer"
)

type stubControl struct {
	mu    sync.Mutex
	name  string
	value string
}

func (c *stubControl) Name() string { return c.name }

func (c *stubControl) Read(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, nil
}

func (c *stubControl) Write(ctx context.Context, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = value
	return nil
}

func (c *stubControl) Subscribe(ctx context.Context, fn func(string)) error { return nil }

type stubHandle struct {
	controls map[string]*stubControl
}

func (h *stubHandle) Control(ctx context.Context, name string) (peer.Control, error) {
	if c, ok := h.controls[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", peer.ErrControlInaccessible, name)
}

func (h *stubHandle) Close() error { return nil }

type stubResolver struct {
	mu      sync.Mutex
	handles map[string]*stubHandle
}

func (r *stubResolver) Resolve(ctx context.Context, name string) (peer.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[name]; ok {
		return h, nil
	}
	return nil, peer.ErrNotFound
}

func stubBank(code string) *stubHandle {
	return &stubHandle{controls: map[string]*stubControl{
		"all_mute":  {name: "all_mute", value: code},
		"flash_bus": {name: "flash_bus", value: "0"},
	}}
}

func newTestConductor(t *testing.T, resolver *stubResolver, peers ...string) *Conductor {
	t.Helper()
	cfg := peer.DefaultConfig()
	cfg.Peers = peers
	cfg.PollInterval = 50 * time.Millisecond
	cfg.ReconnectInterval = time.Millisecond
	c := NewConductor(cfg, resolver, zerolog.Nop())
	t.Cleanup(c.Close)
	return c
}

func pollOnce(c *Conductor) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c.registry.Poll(ctx)
}

func TestConductorAggregatePublishedToAllMute(t *testing.T) {
	resolver := &stubResolver{handles: map[string]*stubHandle{
		"bank-a": stubBank("1"),
		"bank-b": stubBank("1"),
	}}
	c := newTestConductor(t, resolver, "bank-a", "bank-b")

	pollOnce(c)

	f, ok := c.Control("all_mute")
	require.True(t, ok)
	assert.Equal(t, "1", f.Value())
}

func TestConductorAggregateMixed(t *testing.T) {
	resolver := &stubResolver{handles: map[string]*stubHandle{
		"bank-a": stubBank("1"),
		"bank-b": stubBank("0"),
	}}
	c := newTestConductor(t, resolver, "bank-a", "bank-b")

	pollOnce(c)

	f, _ := c.Control("all_mute")
	assert.Equal(t, "2", f.Value())
}

func TestConductorAggregateBlankWithoutPeers(t *testing.T) {
	resolver := &stubResolver{handles: map[string]*stubHandle{}}
	c := newTestConductor(t, resolver, "missing-bank")

	pollOnce(c)

	f, _ := c.Control("all_mute")
	assert.Equal(t, "", f.Value())
}

func TestConductorCommandFansOutToPeers(t *testing.T) {
	bankA := stubBank("0")
	bankB := stubBank("0")
	resolver := &stubResolver{handles: map[string]*stubHandle{
		"bank-a": bankA,
		"bank-b": bankB,
	}}
	c := newTestConductor(t, resolver, "bank-a", "bank-b")

	pollOnce(c)

	f, _ := c.Control("all_mute")
	f.Set("1")

	assert.Equal(t, "1", bankA.controls["all_mute"].value)
	assert.Equal(t, "1", bankB.controls["all_mute"].value)
	assert.Equal(t, "1", f.Value())
}

func TestConductorMixedCommandRepublishesAggregate(t *testing.T) {
	bankA := stubBank("1")
	resolver := &stubResolver{handles: map[string]*stubHandle{"bank-a": bankA}}
	c := newTestConductor(t, resolver, "bank-a")

	pollOnce(c)
	f, _ := c.Control("all_mute")
	require.Equal(t, "1", f.Value())

	f.Set("2")

	// Peer untouched, field snapped back to the real aggregate.
	assert.Equal(t, "1", bankA.controls["all_mute"].value)
	assert.Equal(t, "1", f.Value())
}

func TestConductorFlashEdgeReachesPeers(t *testing.T) {
	bankA := stubBank("0")
	resolver := &stubResolver{handles: map[string]*stubHandle{"bank-a": bankA}}
	c := newTestConductor(t, resolver, "bank-a")

	pollOnce(c)

	// Stop the live clock so its edges do not race the one injected below.
	c.clock.SetEnabled(false)
	c.flashEdge(true)
	bus, _ := c.Control("flash_bus")
	assert.Equal(t, "1", bus.Value())

	require.Eventually(t, func() bool {
		bankA.controls["flash_bus"].mu.Lock()
		defer bankA.controls["flash_bus"].mu.Unlock()
		return bankA.controls["flash_bus"].value == "1"
	}, time.Second, 5*time.Millisecond)
}

func TestConductorClockRunsAsSource(t *testing.T) {
	resolver := &stubResolver{handles: map[string]*stubHandle{}}
	c := newTestConductor(t, resolver)

	assert.True(t, c.clock.Enabled())
	assert.Equal(t, mute.RoleSource, c.clock.Role())
}
