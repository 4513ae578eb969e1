package peer

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/IDisposable/mutegrid/internal/mute"
)

// PeerState is the connection state of one configured peer slot.
type PeerState int

const (
	PeerUnconfigured PeerState = iota
	PeerResolving
	PeerConnected
	PeerFailed
)

func (s PeerState) String() string {
	switch s {
	case PeerResolving:
		return "resolving"
	case PeerConnected:
		return "connected"
	case PeerFailed:
		return "failed"
	default:
		return "unconfigured"
	}
}

// Control names probed on a freshly resolved peer, in order: the multi-group
// aggregate surface first, then the single-group surface. The first one that
// is present and readable wins.
var muteProbeOrder = []string{"all_mute", "group_mute_1"}

// flashBusControl is the peer control flash edges are pushed to. Optional;
// peers without it simply do not follow the conductor's clock.
const flashBusControl = "flash_bus"

// PeerStatus is a read-only snapshot of one peer slot.
type PeerStatus struct {
	Name       string         `json:"name"`
	State      string         `json:"state"`
	Reason     string         `json:"reason,omitempty"`
	MuteState  mute.MuteState `json:"-"`
	HasReading bool           `json:"has_reading"`
	Code       int            `json:"code"`
}

type peerSlot struct {
	name        string
	state       PeerState
	reason      string
	handle      Handle
	control     Control
	flashBus    Control
	last        mute.MuteState
	hasReading  bool
	lastAttempt time.Time
}

// Registry maintains the conductor's view of its configured peers: the
// per-slot connection state machine, resolution and probing, polling, and
// the tri-state aggregate over connected peers. Writes to peers are
// fire-and-forget; a failed write demotes the peer and the next poll cycle
// restores consistency.
type Registry struct {
	mu                sync.Mutex
	logger            zerolog.Logger
	resolver          Resolver
	autoReconnect     bool
	reconnectInterval time.Duration
	peers             []*peerSlot
	onChange          func()
}

// NewRegistry creates a registry for the named peers. Empty names stay
// Unconfigured. onChange runs after any poll cycle that may have changed
// peer state or the aggregate; it may be nil.
func NewRegistry(resolver Resolver, names []string, autoReconnect bool, reconnectInterval time.Duration, logger zerolog.Logger, onChange func()) *Registry {
	r := &Registry{
		logger:            logger,
		resolver:          resolver,
		autoReconnect:     autoReconnect,
		reconnectInterval: reconnectInterval,
		onChange:          onChange,
	}
	for _, name := range names {
		slot := &peerSlot{name: name}
		if name != "" {
			slot.state = PeerResolving
		}
		r.peers = append(r.peers, slot)
	}
	return r
}

// SetPeerName reconfigures one slot. Any existing connection is dropped and
// resolution starts on the next poll cycle.
func (r *Registry) SetPeerName(i int, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.peers) {
		return
	}
	slot := r.peers[i]
	r.disconnectLocked(slot, "")
	slot.name = name
	slot.lastAttempt = time.Time{}
	if name == "" {
		slot.state = PeerUnconfigured
	} else {
		slot.state = PeerResolving
	}
}

// Reconnect manually triggers resolution of one slot regardless of the
// reconnect interval.
func (r *Registry) Reconnect(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.peers) {
		return
	}
	slot := r.peers[i]
	if slot.name == "" {
		return
	}
	r.disconnectLocked(slot, "")
	slot.state = PeerResolving
	slot.lastAttempt = time.Time{}
}

// Poll runs one cycle: connected peers are read, everything else is given a
// resolution attempt subject to the reconnect interval and the
// auto-reconnect setting.
func (r *Registry) Poll(ctx context.Context) {
	r.mu.Lock()
	slots := append([]*peerSlot{}, r.peers...)
	r.mu.Unlock()

	for _, slot := range slots {
		r.pollSlot(ctx, slot)
	}

	if r.onChange != nil {
		r.onChange()
	}
}

func (r *Registry) pollSlot(ctx context.Context, slot *peerSlot) {
	r.mu.Lock()
	state := slot.state
	name := slot.name
	control := slot.control
	due := time.Since(slot.lastAttempt) >= r.reconnectInterval
	auto := r.autoReconnect
	r.mu.Unlock()

	switch state {
	case PeerConnected:
		value, err := control.Read(ctx)
		if err != nil {
			r.mu.Lock()
			r.disconnectLocked(slot, "read failed: "+err.Error())
			r.mu.Unlock()
			r.logger.Warn().Str("peer", name).Err(err).Msg("peer read failed, disconnecting")
			return
		}
		r.applyReading(slot, name, value)
	case PeerResolving:
		r.resolveSlot(ctx, slot)
	case PeerFailed:
		if auto && due {
			r.resolveSlot(ctx, slot)
		}
	}
}

// applyReading updates a slot's mirrored state from a polled or pushed code
// string. Updates are idempotent, so the polling path and any subscription
// push can both feed it. A reading taken before the slot was renamed is
// discarded.
func (r *Registry) applyReading(slot *peerSlot, name, value string) {
	state, ok := mute.ParseCommand(value)
	if !ok {
		return
	}
	r.mu.Lock()
	if slot.name == name {
		slot.last = state
		slot.hasReading = true
	}
	r.mu.Unlock()
}

func (r *Registry) resolveSlot(ctx context.Context, slot *peerSlot) {
	r.mu.Lock()
	name := slot.name
	slot.state = PeerResolving
	slot.lastAttempt = time.Now()
	r.mu.Unlock()

	if name == "" {
		return
	}

	handle, err := r.resolver.Resolve(ctx, name)
	if err != nil {
		reason := "resolve failed: " + err.Error()
		if errors.Is(err, ErrNotFound) {
			reason = "not found"
		}
		r.failSlot(slot, name, reason)
		return
	}

	for _, probe := range muteProbeOrder {
		control, err := handle.Control(ctx, probe)
		if err != nil {
			continue
		}

		// A rename that landed during the browse makes this result stale;
		// the slot is already resolving the new name.
		r.mu.Lock()
		if slot.name != name {
			r.mu.Unlock()
			_ = handle.Close()
			return
		}
		slot.handle = handle
		slot.control = control
		slot.state = PeerConnected
		slot.reason = ""
		r.mu.Unlock()

		// Flash bus is best-effort; not every peer follows the conductor.
		if bus, err := handle.Control(ctx, flashBusControl); err == nil {
			r.mu.Lock()
			if slot.name == name {
				slot.flashBus = bus
			}
			r.mu.Unlock()
		}

		observePeerConnected(name, true)
		peerReconnectsTotal.Inc()
		r.logger.Info().Str("peer", name).Str("control", control.Name()).Msg("peer connected")

		if value, err := control.Read(ctx); err == nil {
			r.applyReading(slot, name, value)
		}
		return
	}

	_ = handle.Close()
	r.failSlot(slot, name, "no accessible control")
}

func (r *Registry) failSlot(slot *peerSlot, name, reason string) {
	r.mu.Lock()
	if slot.name != name {
		r.mu.Unlock()
		return
	}
	r.disconnectLocked(slot, reason)
	r.mu.Unlock()
	r.logger.Warn().Str("peer", name).Str("reason", reason).Msg("peer unavailable")
	observePeerConnected(name, false)
}

// disconnectLocked drops a slot's connection and marks it Failed with the
// given reason (or leaves the state for the caller to set when empty).
func (r *Registry) disconnectLocked(slot *peerSlot, reason string) {
	if slot.handle != nil {
		_ = slot.handle.Close()
	}
	slot.handle = nil
	slot.control = nil
	slot.flashBus = nil
	slot.hasReading = false
	if reason != "" {
		slot.state = PeerFailed
		slot.reason = reason
		observePeerConnected(slot.name, false)
	}
}

// GlobalAggregate reduces connected peers' states to one tri-state value.
// Disconnected peers are excluded, not treated as unmuted; with no readable
// connected peer the aggregate is undefined.
func (r *Registry) GlobalAggregate() (mute.MuteState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	allMuted, allUnmuted := true, true
	counted := 0
	for _, slot := range r.peers {
		if slot.state != PeerConnected || !slot.hasReading {
			continue
		}
		counted++
		if slot.last != mute.Muted {
			allMuted = false
		}
		if slot.last != mute.Unmuted {
			allUnmuted = false
		}
	}
	if counted == 0 {
		return mute.Unmuted, false
	}
	switch {
	case allMuted:
		return mute.Muted, true
	case allUnmuted:
		return mute.Unmuted, true
	default:
		return mute.Mixed, true
	}
}

// CommandAll writes the target base state to every connected peer. Mixed is
// a derived condition and is rejected outright. Individual write failures
// demote the failing peer; the command still reaches the rest.
func (r *Registry) CommandAll(ctx context.Context, state mute.MuteState) error {
	if state == mute.Mixed {
		return ErrMixedCommand
	}

	value := strconv.Itoa(mute.Encode(state, false))
	for _, p := range r.connectedPeers() {
		if err := p.control.Write(ctx, value); err != nil {
			r.mu.Lock()
			r.disconnectLocked(p.slot, "write failed: "+err.Error())
			r.mu.Unlock()
			r.logger.Warn().Str("peer", p.name).Err(err).Msg("peer write failed, disconnecting")
			continue
		}
		r.applyReading(p.slot, p.name, value)
	}
	return nil
}

// BroadcastFlash pushes one flash edge to every connected peer that exposes
// a flash bus. Fire-and-forget: failures demote the peer.
func (r *Registry) BroadcastFlash(ctx context.Context, on bool) {
	value := "0"
	if on {
		value = "1"
	}
	for _, p := range r.connectedPeers() {
		if p.flashBus == nil {
			continue
		}
		if err := p.flashBus.Write(ctx, value); err != nil {
			r.mu.Lock()
			r.disconnectLocked(p.slot, "write failed: "+err.Error())
			r.mu.Unlock()
			r.logger.Warn().Str("peer", p.name).Err(err).Msg("flash bus write failed, disconnecting")
		}
	}
}

// connectedPeer is a snapshot of one Connected slot's name and control
// handles, taken under the lock. A concurrent Poll can demote the slot and
// nil its control fields mid-fanout, so fanout paths write through the
// snapshot and never re-read the slot.
type connectedPeer struct {
	slot     *peerSlot
	name     string
	control  Control
	flashBus Control
}

func (r *Registry) connectedPeers() []connectedPeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []connectedPeer
	for _, slot := range r.peers {
		if slot.state != PeerConnected || slot.control == nil {
			continue
		}
		out = append(out, connectedPeer{
			slot:     slot,
			name:     slot.name,
			control:  slot.control,
			flashBus: slot.flashBus,
		})
	}
	return out
}

// Statuses returns a snapshot of every slot for the UI and event feed.
func (r *Registry) Statuses() []PeerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PeerStatus, 0, len(r.peers))
	for _, slot := range r.peers {
		out = append(out, PeerStatus{
			Name:       slot.name,
			State:      slot.state.String(),
			Reason:     slot.reason,
			MuteState:  slot.last,
			HasReading: slot.hasReading,
			Code:       mute.Encode(slot.last, false),
		})
	}
	return out
}

// Close drops every connection.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, slot := range r.peers {
		r.disconnectLocked(slot, "")
		slot.state = PeerUnconfigured
	}
}
