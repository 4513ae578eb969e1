package mute

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// coalesceWindow batches bursts of near-simultaneous zone commands (a scene
// recall touching many zones) into one aggregate pass per group.
const coalesceWindow = 10 * time.Millisecond

type zoneNode struct {
	group, index int
	label        string
	muted        bool
	muteField    *Field
	ampField     *Field
}

type groupNode struct {
	index        int
	label        string
	respect      bool
	state        MuteState
	muteField    *Field
	ampField     *Field
	respectField *Field
	zones        []*zoneNode
}

// Manager owns the whole mute grid of one bank instance: the zone/group
// arena, the fault tracker, the flash clock, the reactive control fields,
// and the event broadcaster. All aggregation state lives here; there are no
// package-level tables.
//
// Aggregation is bottom-up (zone toggles -> group code -> global code) and
// the same recompute path also serves top-down command application, so both
// directions stay consistent through one function. Internal writes go
// through Field.Publish, which never re-enters command handlers.
type Manager struct {
	mu     sync.Mutex
	logger zerolog.Logger
	cfg    Config
	colors ColorScheme

	faults *FaultTracker
	clock  *FlashClock
	events *EventBroadcaster

	groups      []*groupNode
	globalField *Field // nil when only one group is configured

	flashRateField *Field
	flashBusField  *Field

	fields map[string]*Field

	coalesce *Timer
	dirty    []bool

	globalState   MuteState
	globalDefined bool

	flashSuppressed bool
}

// NewManager builds the grid described by cfg. Every group's respect flag
// starts true; it never silently defaults to opted-out. The flash clock
// starts gated off because no fault can be active yet.
func NewManager(cfg Config, ts TimeSource, logger zerolog.Logger) *Manager {
	colors := cfg.Colors
	if colors.Unmuted == "" {
		colors = DefaultColorScheme()
	}

	m := &Manager{
		logger: logger,
		cfg:    cfg,
		colors: colors,
		faults: NewFaultTracker(cfg.GroupCount, cfg.ZonesPerGroup),
		fields: make(map[string]*Field),
		dirty:  make([]bool, cfg.GroupCount),
	}
	m.coalesce = NewTimer(m.flushDirty)

	clockLogger := logger.With().Str("component", "flash-clock").Logger()
	m.clock = NewFlashClock(ts, cfg.FlashRate, clockLogger, m.flashEdge)

	eventsLogger := logger.With().Str("component", "events").Logger()
	m.events = NewEventBroadcaster(&eventsLogger, m.snapshotEvents)

	for g := 0; g < cfg.GroupCount; g++ {
		grp := &groupNode{
			index:        g,
			label:        cfg.GroupLabel(g),
			respect:      true,
			muteField:    m.register(fmt.Sprintf("group_mute_%d", g+1)),
			ampField:     m.register(fmt.Sprintf("amp_status_%d", g+1)),
			respectField: m.register(fmt.Sprintf("respect_global_%d", g+1)),
		}
		for z := 0; z < cfg.ZonesPerGroup; z++ {
			zone := &zoneNode{
				group:     g,
				index:     z,
				label:     cfg.ZoneLabel(g, z),
				muteField: m.register(fmt.Sprintf("zone_mute_%d_%d", g+1, z+1)),
				ampField:  m.register(fmt.Sprintf("amp_status_%d_%d", g+1, z+1)),
			}
			grp.zones = append(grp.zones, zone)
			m.bindZone(zone)
		}
		m.groups = append(m.groups, grp)
		m.bindGroup(grp)
	}

	if cfg.GroupCount > 1 {
		m.globalField = m.register("all_mute")
		m.globalField.SetCommandHandler(m.globalMuteCommand)
	}

	m.flashRateField = m.register("flash_rate")
	m.flashRateField.SetCommandHandler(m.flashRateCommand)
	m.flashBusField = m.register("flash_bus")
	m.flashBusField.SetCommandHandler(m.flashBusCommand)
	m.flashRateField.Publish(strconv.Itoa(cfg.FlashRate))
	m.flashBusField.Publish("0")

	m.mu.Lock()
	for g := range m.groups {
		m.groups[g].respectField.Publish("true")
		m.recomputeGroupLocked(g)
	}
	m.recomputeGlobalLocked()
	m.mu.Unlock()

	return m
}

func (m *Manager) register(name string) *Field {
	f := NewField(name)
	m.fields[name] = f
	return f
}

func (m *Manager) bindZone(zone *zoneNode) {
	g, z := zone.group, zone.index
	zone.muteField.SetCommandHandler(func(value string) { m.zoneMuteCommand(g, z, value) })
	zone.ampField.SetCommandHandler(func(value string) { m.zoneAmpCommand(g, z, value) })
}

func (m *Manager) bindGroup(grp *groupNode) {
	g := grp.index
	grp.muteField.SetCommandHandler(func(value string) { m.groupMuteCommand(g, value) })
	grp.ampField.SetCommandHandler(func(value string) { m.groupAmpCommand(g, value) })
	grp.respectField.SetCommandHandler(func(value string) { m.respectCommand(g, value) })
}

// Close stops the flash clock, any pending coalescing window, and the event
// dispatcher.
func (m *Manager) Close() {
	m.clock.SetEnabled(false)
	m.coalesce.Stop()
	m.events.Close()
}

// Events returns the websocket event broadcaster.
func (m *Manager) Events() *EventBroadcaster { return m.events }

// Clock returns the flash clock.
func (m *Manager) Clock() *FlashClock { return m.clock }

// Config returns the configuration the grid was built from.
func (m *Manager) Config() Config { return m.cfg }

// Control looks up a reactive field by name.
func (m *Manager) Control(name string) (*Field, bool) {
	f, ok := m.fields[name]
	return f, ok
}

// ControlNames returns all control names in sorted order.
func (m *Manager) ControlNames() []string {
	names := make([]string, 0, len(m.fields))
	for name := range m.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TogglePressed handles a user press on a zone's mute button: flip the
// toggle and recompute synchronously.
func (m *Manager) TogglePressed(g, z int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g < 0 || g >= len(m.groups) {
		return
	}
	grp := m.groups[g]
	if z < 0 || z >= len(grp.zones) {
		return
	}
	grp.zones[z].muted = !grp.zones[z].muted
	m.recomputeGroupLocked(g)
	m.recomputeGlobalLocked()
}

// SetFlashSuppressed globally suppresses the fault flash overlay without
// stopping the clock.
func (m *Manager) SetFlashSuppressed(suppressed bool) {
	m.mu.Lock()
	m.flashSuppressed = suppressed
	m.mu.Unlock()
}

// zoneMuteCommand applies an external write to a zone's mute control. The
// zone toggle is written directly (the toggle-press handler is bypassed) and
// the parent group is marked dirty; the coalescing window batches bursts
// into one recompute per group.
func (m *Manager) zoneMuteCommand(g, z int, value string) {
	state, ok := ParseCommand(value)
	if !ok {
		ignoredCommandsTotal.Inc()
		m.logger.Debug().Int("group", g+1).Int("zone", z+1).Str("value", value).Msg("ignoring unparseable zone mute command")
		return
	}
	if state == Mixed {
		// Mixed is a derived condition, never a settable zone state.
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	zone := m.groups[g].zones[z]
	zone.muted = state == Muted
	echo := "0"
	if zone.muted {
		echo = "1"
	}
	zone.muteField.Publish(echo)
	if m.dirty[g] {
		coalescedCommandsTotal.Inc()
	}
	m.dirty[g] = true
	if !m.coalesce.Pending() {
		m.coalesce.Start(coalesceWindow)
	}
}

// flushDirty recomputes every dirty group exactly once, in index order, then
// the global aggregate, all within one pass.
func (m *Manager) flushDirty() {
	m.mu.Lock()
	defer m.mu.Unlock()
	var any bool
	for g := range m.dirty {
		if m.dirty[g] {
			m.dirty[g] = false
			m.recomputeGroupLocked(g)
			any = true
		}
	}
	if any {
		m.recomputeGlobalLocked()
	}
}

// groupMuteCommand applies an external write to a group's mute control. A
// Mixed command is echoed as display state only; it never alters member
// toggles, since mixed describes a derived condition.
func (m *Manager) groupMuteCommand(g int, value string) {
	state, ok := ParseCommand(value)
	if !ok {
		ignoredCommandsTotal.Inc()
		m.logger.Debug().Int("group", g+1).Str("value", value).Msg("ignoring unparseable group mute command")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	grp := m.groups[g]
	if state == Mixed {
		grp.state = Mixed
		code := Encode(Mixed, m.faults.GroupFault(g))
		grp.muteField.Publish(strconv.Itoa(code))
		observeGroupCode(g, code)
		m.broadcastGroupLocked(grp, code)
		return
	}
	for _, zone := range grp.zones {
		zone.muted = state == Muted
	}
	m.recomputeGroupLocked(g)
	m.recomputeGlobalLocked()
}

// globalMuteCommand applies an external write to the global mute control to
// every group that respects global mute.
func (m *Manager) globalMuteCommand(value string) {
	state, ok := ParseCommand(value)
	if !ok {
		ignoredCommandsTotal.Inc()
		m.logger.Debug().Str("value", value).Msg("ignoring unparseable global mute command")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if state == Mixed {
		m.globalState = Mixed
		m.globalDefined = true
		code := Encode(Mixed, m.faults.AnyFaultActive())
		m.globalField.Publish(strconv.Itoa(code))
		observeGlobalCode(code)
		m.broadcastGlobalLocked(code)
		return
	}
	for g, grp := range m.groups {
		if !grp.respect {
			continue
		}
		for _, zone := range grp.zones {
			zone.muted = state == Muted
		}
		m.recomputeGroupLocked(g)
	}
	m.recomputeGlobalLocked()
}

// zoneAmpCommand parses a zone's amplifier status text and updates fault
// bookkeeping, the group's fault-encoded code, and the flash gate.
func (m *Manager) zoneAmpCommand(g, z int, value string) {
	faulted := ParseAmpStatus(value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g].zones[z].ampField.Publish(value)
	if m.faults.ZoneFault(g, z) == faulted {
		return
	}
	m.faults.SetZoneFault(g, z, faulted)
	m.recomputeGroupLocked(g)
	m.recomputeGlobalLocked()
	m.updateFlashGateLocked()
	m.events.Broadcast(Event{Type: EventFaultChanged, Data: FaultChangedData{Group: g, Zone: z, Faulted: faulted}})
}

// groupAmpCommand is the group-level analogue of zoneAmpCommand.
func (m *Manager) groupAmpCommand(g int, value string) {
	faulted := ParseAmpStatus(value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g].ampField.Publish(value)
	m.faults.SetGroupFault(g, faulted)
	m.recomputeGroupLocked(g)
	m.recomputeGlobalLocked()
	m.updateFlashGateLocked()
	m.events.Broadcast(Event{Type: EventFaultChanged, Data: FaultChangedData{Group: g, Zone: -1, Faulted: faulted}})
}

// respectCommand updates a group's opt-in to the global mute aggregate.
func (m *Manager) respectCommand(g int, value string) {
	v, ok := ParseBool(value)
	if !ok {
		ignoredCommandsTotal.Inc()
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	grp := m.groups[g]
	grp.respect = v
	grp.respectField.Publish(strconv.FormatBool(v))
	m.recomputeGlobalLocked()
}

// flashRateCommand updates the flash rate, forcing a clock resync.
func (m *Manager) flashRateCommand(value string) {
	rate, err := strconv.Atoi(value)
	if err != nil || ValidateFlashRate(rate) != nil {
		ignoredCommandsTotal.Inc()
		m.logger.Debug().Str("value", value).Msg("ignoring invalid flash rate")
		return
	}
	m.clock.SetRate(rate)
	m.flashRateField.Publish(strconv.Itoa(rate))
}

// flashBusCommand delivers an externally observed flash edge, putting the
// clock into follower role.
func (m *Manager) flashBusCommand(value string) {
	v, ok := ParseBool(value)
	if !ok {
		return
	}
	m.clock.ObserveEdge(v)
}

// flashEdge runs on every clock edge. It only touches the flash bus output,
// metrics, and the event feed; node colors are resolved on demand, so
// unfaulted nodes cost nothing here.
func (m *Manager) flashEdge(on bool) {
	flashEdgesTotal.Inc()
	value := "0"
	if on {
		value = "1"
	}
	m.flashBusField.Publish(value)
	m.events.Broadcast(Event{Type: EventFlashEdge, Data: FlashEdgeData{On: on}})
}

// recomputeGroupLocked derives a group's base state from its zone toggles,
// publishes the fault-encoded group code, and pushes each member's plain 0/1
// code. Zone codes never carry the fault bit.
func (m *Manager) recomputeGroupLocked(g int) {
	grp := m.groups[g]
	allMuted, allUnmuted := true, true
	for _, zone := range grp.zones {
		if zone.muted {
			allUnmuted = false
		} else {
			allMuted = false
		}
	}
	base := Mixed
	switch {
	case allMuted:
		base = Muted
	case allUnmuted:
		base = Unmuted
	}
	grp.state = base

	code := Encode(base, m.faults.GroupFault(g))
	grp.muteField.Publish(strconv.Itoa(code))
	for _, zone := range grp.zones {
		value := "0"
		if zone.muted {
			value = "1"
		}
		zone.muteField.Publish(value)
	}

	groupRecomputesTotal.Inc()
	observeGroupCode(g, code)
	m.broadcastGroupLocked(grp, code)
}

// recomputeGlobalLocked derives the global aggregate over respect-flagged
// groups. With no participating groups the aggregate is blank, not Unmuted.
// The fault bit ORs all groups regardless of respect flag.
func (m *Manager) recomputeGlobalLocked() {
	if m.globalField == nil {
		return
	}

	allMuted, allUnmuted := true, true
	participating := 0
	for _, grp := range m.groups {
		if !grp.respect {
			continue
		}
		participating++
		if grp.state != Muted {
			allMuted = false
		}
		if grp.state != Unmuted {
			allUnmuted = false
		}
	}

	anyFault := m.faults.AnyFaultActive()
	observeFaultActive(anyFault)

	if participating == 0 {
		m.globalDefined = false
		m.globalField.Publish("")
		observeGlobalCode(-1)
		return
	}

	base := Mixed
	switch {
	case allMuted:
		base = Muted
	case allUnmuted:
		base = Unmuted
	}
	m.globalState = base
	m.globalDefined = true

	code := Encode(base, anyFault)
	m.globalField.Publish(strconv.Itoa(code))
	observeGlobalCode(code)
	m.broadcastGlobalLocked(code)
}

// updateFlashGateLocked starts or fully stops the flash clock from the
// current fault picture. With no faults the clock holds no pending timer.
func (m *Manager) updateFlashGateLocked() {
	active := m.faults.AnyFaultActive()
	observeFaultActive(active)
	m.clock.SetEnabled(active)
}

func (m *Manager) broadcastGroupLocked(grp *groupNode, code int) {
	m.events.Broadcast(Event{Type: EventMuteChanged, Data: MuteChangedData{
		Group: grp.index,
		Zone:  -1,
		State: grp.state.String(),
		Code:  code,
		Color: m.colors.ColorFor(NodeState{Base: grp.state, Faulted: m.faults.GroupFault(grp.index)}, m.clock.On(), m.flashSuppressed),
	}})
}

func (m *Manager) broadcastGlobalLocked(code int) {
	m.events.Broadcast(Event{Type: EventMuteChanged, Data: MuteChangedData{
		Group: -1,
		Zone:  -1,
		State: m.globalState.String(),
		Code:  code,
		Color: m.colors.ColorFor(NodeState{Base: m.globalState, Faulted: m.faults.AnyFaultActive()}, m.clock.On(), m.flashSuppressed),
	}})
}

// GroupState returns a group's current base state and derived fault flag.
func (m *Manager) GroupState(g int) (MuteState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g < 0 || g >= len(m.groups) {
		return Unmuted, false
	}
	return m.groups[g].state, m.faults.GroupFault(g)
}

// GlobalState returns the global aggregate and whether it is defined. It is
// undefined when no group respects global mute, or with a single group.
func (m *Manager) GlobalState() (MuteState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.globalField == nil {
		return Unmuted, false
	}
	return m.globalState, m.globalDefined
}

// ZoneMuted reports one zone's toggle.
func (m *Manager) ZoneMuted(g, z int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g < 0 || g >= len(m.groups) {
		return false
	}
	grp := m.groups[g]
	if z < 0 || z >= len(grp.zones) {
		return false
	}
	return grp.zones[z].muted
}

// GroupColor resolves the current display color of a group widget.
func (m *Manager) GroupColor(g int) Color {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g < 0 || g >= len(m.groups) {
		return m.colors.Unmuted
	}
	n := NodeState{Base: m.groups[g].state, Faulted: m.faults.GroupFault(g)}
	return m.colors.ColorFor(n, m.clock.On(), m.flashSuppressed)
}

// ZoneColor resolves the current display color of a zone widget. A zone
// flashes when its parent group is faulted, not only on its own fault.
func (m *Manager) ZoneColor(g, z int) Color {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g < 0 || g >= len(m.groups) {
		return m.colors.Unmuted
	}
	grp := m.groups[g]
	if z < 0 || z >= len(grp.zones) {
		return m.colors.Unmuted
	}
	base := Unmuted
	if grp.zones[z].muted {
		base = Muted
	}
	n := NodeState{Base: base, Faulted: m.faults.GroupFault(g)}
	return m.colors.ColorFor(n, m.clock.On(), m.flashSuppressed)
}

// snapshotEvents builds the initial-state feed for a new event subscriber.
func (m *Manager) snapshotEvents() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []Event
	for g, grp := range m.groups {
		code := Encode(grp.state, m.faults.GroupFault(g))
		events = append(events, Event{Type: EventMuteChanged, Data: MuteChangedData{
			Group: g,
			Zone:  -1,
			State: grp.state.String(),
			Code:  code,
			Color: m.colors.ColorFor(NodeState{Base: grp.state, Faulted: m.faults.GroupFault(g)}, m.clock.On(), m.flashSuppressed),
		}})
		for z, zone := range grp.zones {
			base := Unmuted
			if zone.muted {
				base = Muted
			}
			events = append(events, Event{Type: EventMuteChanged, Data: MuteChangedData{
				Group: g,
				Zone:  z,
				State: base.String(),
				Code:  Encode(base, false),
				Color: m.colors.ColorFor(NodeState{Base: base, Faulted: m.faults.GroupFault(g)}, m.clock.On(), m.flashSuppressed),
			}})
		}
	}
	if m.globalField != nil && m.globalDefined {
		events = append(events, Event{Type: EventMuteChanged, Data: MuteChangedData{
			Group: -1,
			Zone:  -1,
			State: m.globalState.String(),
			Code:  Encode(m.globalState, m.faults.AnyFaultActive()),
			Color: m.colors.ColorFor(NodeState{Base: m.globalState, Faulted: m.faults.AnyFaultActive()}, m.clock.On(), m.flashSuppressed),
		}})
	}
	events = append(events, Event{Type: EventFlashEdge, Data: FlashEdgeData{On: m.clock.On()}})
	return events
}
