package peer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IDisposable/mutegrid/internal/logging"
	"github.com/IDisposable/mutegrid/internal/mute"
)

type fakeControl struct {
	name     string
	value    string
	readErr  error
	writeErr error
	writes   []string
}

func (f *fakeControl) Name() string { return f.name }

func (f *fakeControl) Read(context.Context) (string, error) {
	if f.readErr != nil {
		return "", f.readErr
	}
	return f.value, nil
}

func (f *fakeControl) Write(_ context.Context, value string) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, value)
	f.value = value
	return nil
}

func (f *fakeControl) Subscribe(context.Context, func(string)) error { return nil }

type fakeHandle struct {
	controls map[string]*fakeControl
	closed   bool
}

func (f *fakeHandle) Control(_ context.Context, name string) (Control, error) {
	if c, ok := f.controls[name]; ok {
		return c, nil
	}
	return nil, ErrControlInaccessible
}

func (f *fakeHandle) Close() error {
	f.closed = true
	return nil
}

type fakeResolver struct {
	handles  map[string]*fakeHandle
	resolves int
}

func (f *fakeResolver) Resolve(_ context.Context, name string) (Handle, error) {
	f.resolves++
	if h, ok := f.handles[name]; ok {
		return h, nil
	}
	return nil, ErrNotFound
}

// blockingControl parks inside Write until released, signalling entry so a
// test can interleave other registry calls with an in-flight fanout.
type blockingControl struct {
	fakeControl
	entered chan struct{}
	release chan struct{}
}

func (b *blockingControl) Write(ctx context.Context, value string) error {
	b.entered <- struct{}{}
	<-b.release
	return b.fakeControl.Write(ctx, value)
}

type controlsHandle struct {
	controls map[string]Control
}

func (h *controlsHandle) Control(_ context.Context, name string) (Control, error) {
	if c, ok := h.controls[name]; ok {
		return c, nil
	}
	return nil, ErrControlInaccessible
}

func (h *controlsHandle) Close() error { return nil }

type handleResolver struct {
	handles map[string]Handle
}

func (r *handleResolver) Resolve(_ context.Context, name string) (Handle, error) {
	if h, ok := r.handles[name]; ok {
		return h, nil
	}
	return nil, ErrNotFound
}

// gatedResolver parks inside Resolve until released so a test can rename the
// slot mid-browse.
type gatedResolver struct {
	inner   Resolver
	entered chan struct{}
	release chan struct{}
}

func (g *gatedResolver) Resolve(ctx context.Context, name string) (Handle, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.inner.Resolve(ctx, name)
}

func bankHandle(control, code string) *fakeHandle {
	return &fakeHandle{controls: map[string]*fakeControl{
		control:         {name: control, value: code},
		flashBusControl: {name: flashBusControl, value: "0"},
	}}
}

func newTestRegistry(t *testing.T, resolver Resolver, names []string) *Registry {
	t.Helper()
	logger := logging.GetSubsystemLogger("test").With().Str("component", "peer-registry").Logger()
	r := NewRegistry(resolver, names, true, time.Millisecond, logger, nil)
	t.Cleanup(r.Close)
	return r
}

func TestRegistryResolvesAggregateSurfaceFirst(t *testing.T) {
	resolver := &fakeResolver{handles: map[string]*fakeHandle{
		"bank-a": bankHandle("all_mute", "1"),
	}}
	r := newTestRegistry(t, resolver, []string{"bank-a"})

	r.Poll(context.Background())

	statuses := r.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "connected", statuses[0].State)
	assert.True(t, statuses[0].HasReading)
	assert.Equal(t, mute.Muted, statuses[0].MuteState)
}

func TestRegistryFallsBackToSingleGroupSurface(t *testing.T) {
	resolver := &fakeResolver{handles: map[string]*fakeHandle{
		"bank-b": bankHandle("group_mute_1", "0"),
	}}
	r := newTestRegistry(t, resolver, []string{"bank-b"})

	r.Poll(context.Background())

	statuses := r.Statuses()
	assert.Equal(t, "connected", statuses[0].State)
	assert.Equal(t, mute.Unmuted, statuses[0].MuteState)
}

func TestRegistryDistinguishesFailureReasons(t *testing.T) {
	// bank-c resolves but has no mute surface at all; bank-d does not exist.
	resolver := &fakeResolver{handles: map[string]*fakeHandle{
		"bank-c": {controls: map[string]*fakeControl{}},
	}}
	r := newTestRegistry(t, resolver, []string{"bank-c", "bank-d"})

	r.Poll(context.Background())

	statuses := r.Statuses()
	assert.Equal(t, "failed", statuses[0].State)
	assert.Equal(t, "no accessible control", statuses[0].Reason)
	assert.Equal(t, "failed", statuses[1].State)
	assert.Equal(t, "not found", statuses[1].Reason)
	assert.True(t, resolver.handles["bank-c"].closed, "an unusable handle must be closed")
}

func TestRegistryAggregateExcludesDisconnected(t *testing.T) {
	// Two muted connected peers plus one unresolvable: aggregate is Muted,
	// not Mixed, not Unmuted.
	resolver := &fakeResolver{handles: map[string]*fakeHandle{
		"bank-a": bankHandle("all_mute", "1"),
		"bank-b": bankHandle("all_mute", "4"), // fault bit discarded on read
	}}
	r := newTestRegistry(t, resolver, []string{"bank-a", "bank-b", "bank-gone"})

	r.Poll(context.Background())

	state, defined := r.GlobalAggregate()
	require.True(t, defined)
	assert.Equal(t, mute.Muted, state)
}

func TestRegistryAggregateMixed(t *testing.T) {
	resolver := &fakeResolver{handles: map[string]*fakeHandle{
		"bank-a": bankHandle("all_mute", "1"),
		"bank-b": bankHandle("all_mute", "0"),
	}}
	r := newTestRegistry(t, resolver, []string{"bank-a", "bank-b"})

	r.Poll(context.Background())

	state, defined := r.GlobalAggregate()
	require.True(t, defined)
	assert.Equal(t, mute.Mixed, state)
}

func TestRegistryAggregateUndefinedWithNoPeers(t *testing.T) {
	resolver := &fakeResolver{handles: map[string]*fakeHandle{}}
	r := newTestRegistry(t, resolver, []string{"bank-gone"})

	r.Poll(context.Background())

	_, defined := r.GlobalAggregate()
	assert.False(t, defined)
}

func TestRegistryCommandAllRejectsMixed(t *testing.T) {
	resolver := &fakeResolver{handles: map[string]*fakeHandle{}}
	r := newTestRegistry(t, resolver, nil)

	err := r.CommandAll(context.Background(), mute.Mixed)
	assert.ErrorIs(t, err, ErrMixedCommand)
}

func TestRegistryCommandAllWritesConnectedPeers(t *testing.T) {
	handleA := bankHandle("all_mute", "0")
	resolver := &fakeResolver{handles: map[string]*fakeHandle{
		"bank-a": handleA,
	}}
	r := newTestRegistry(t, resolver, []string{"bank-a", "bank-gone"})

	r.Poll(context.Background())
	require.NoError(t, r.CommandAll(context.Background(), mute.Muted))

	assert.Equal(t, []string{"1"}, handleA.controls["all_mute"].writes)

	state, defined := r.GlobalAggregate()
	require.True(t, defined)
	assert.Equal(t, mute.Muted, state)
}

func TestRegistryReadErrorDemotesPeer(t *testing.T) {
	handle := bankHandle("all_mute", "1")
	resolver := &fakeResolver{handles: map[string]*fakeHandle{
		"bank-a": handle,
	}}
	r := newTestRegistry(t, resolver, []string{"bank-a"})

	r.Poll(context.Background())
	require.Equal(t, "connected", r.Statuses()[0].State)

	handle.controls["all_mute"].readErr = errors.New("connection reset")
	handle.closed = false
	r.Poll(context.Background())

	status := r.Statuses()[0]
	assert.Equal(t, "failed", status.State)
	assert.Contains(t, status.Reason, "read failed")
	assert.True(t, handle.closed)
}

func TestRegistryAutoReconnectAfterFailure(t *testing.T) {
	resolver := &fakeResolver{handles: map[string]*fakeHandle{}}
	r := newTestRegistry(t, resolver, []string{"bank-a"})

	r.Poll(context.Background())
	require.Equal(t, "failed", r.Statuses()[0].State)

	// The bank comes up; the next poll past the reconnect interval finds it.
	resolver.handles["bank-a"] = bankHandle("all_mute", "0")
	time.Sleep(2 * time.Millisecond)
	r.Poll(context.Background())

	assert.Equal(t, "connected", r.Statuses()[0].State)
}

func TestRegistryBroadcastFlash(t *testing.T) {
	handle := bankHandle("all_mute", "0")
	resolver := &fakeResolver{handles: map[string]*fakeHandle{
		"bank-a": handle,
	}}
	r := newTestRegistry(t, resolver, []string{"bank-a"})

	r.Poll(context.Background())
	r.BroadcastFlash(context.Background(), true)
	r.BroadcastFlash(context.Background(), false)

	assert.Equal(t, []string{"1", "0"}, handle.controls[flashBusControl].writes)
}

func TestCommandAllSurvivesConcurrentDisconnect(t *testing.T) {
	// Fanout writes must use the control handles snapshotted at fanout start:
	// a Poll demoting another peer mid-fanout nils that slot's control fields.
	slow := &blockingControl{
		fakeControl: fakeControl{name: "all_mute", value: "0"},
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	handleA := &controlsHandle{controls: map[string]Control{"all_mute": slow}}
	handleB := bankHandle("all_mute", "0")
	resolver := &handleResolver{handles: map[string]Handle{
		"bank-a": handleA,
		"bank-b": handleB,
	}}
	r := newTestRegistry(t, resolver, []string{"bank-a", "bank-b"})

	r.Poll(context.Background())
	require.Equal(t, "connected", r.Statuses()[0].State)
	require.Equal(t, "connected", r.Statuses()[1].State)

	done := make(chan error, 1)
	go func() { done <- r.CommandAll(context.Background(), mute.Muted) }()

	// Fanout is parked inside bank-a's write; demote bank-b underneath it.
	<-slow.entered
	handleB.controls["all_mute"].readErr = errors.New("connection reset")
	r.Poll(context.Background())
	require.Equal(t, "failed", r.Statuses()[1].State)

	close(slow.release)
	require.NoError(t, <-done)

	// bank-b's write went through the snapshotted control.
	assert.Equal(t, []string{"1"}, handleB.controls["all_mute"].writes)
}

func TestRegistryDiscardsStaleResolveAfterRename(t *testing.T) {
	oldHandle := bankHandle("all_mute", "1")
	inner := &fakeResolver{handles: map[string]*fakeHandle{"bank-old": oldHandle}}
	resolver := &gatedResolver{
		inner:   inner,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	r := newTestRegistry(t, resolver, []string{"bank-old"})

	done := make(chan struct{})
	go func() {
		r.Poll(context.Background())
		close(done)
	}()

	// Rename lands while the browse for the old name is still in flight.
	<-resolver.entered
	r.SetPeerName(0, "bank-new")
	close(resolver.release)
	<-done

	status := r.Statuses()[0]
	assert.Equal(t, "bank-new", status.Name)
	assert.Equal(t, "resolving", status.State, "a stale resolve result must not connect the renamed slot")
	assert.True(t, oldHandle.closed, "the stale handle must be closed")
}

func TestRegistrySetPeerNameRestartsSlot(t *testing.T) {
	resolver := &fakeResolver{handles: map[string]*fakeHandle{
		"bank-a": bankHandle("all_mute", "0"),
		"bank-b": bankHandle("all_mute", "1"),
	}}
	r := newTestRegistry(t, resolver, []string{"bank-a"})

	r.Poll(context.Background())
	require.Equal(t, "connected", r.Statuses()[0].State)

	r.SetPeerName(0, "bank-b")
	assert.Equal(t, "resolving", r.Statuses()[0].State)

	r.Poll(context.Background())
	status := r.Statuses()[0]
	assert.Equal(t, "connected", status.State)
	assert.Equal(t, mute.Muted, status.MuteState)
}
