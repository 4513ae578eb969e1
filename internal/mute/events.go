package mute

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
)

// EventType represents the kinds of state-change events pushed to websocket
// subscribers.
type EventType string

const (
	EventMuteChanged  EventType = "mute-changed"
	EventFaultChanged EventType = "fault-changed"
	EventFlashEdge    EventType = "flash-edge"
	EventPeerState    EventType = "peer-state"
)

// Event is one websocket event envelope.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// MuteChangedData describes a mute state change on a node. Zone is -1 for
// group-level nodes, Group is -1 for the global aggregate.
type MuteChangedData struct {
	Group int    `json:"group"`
	Zone  int    `json:"zone"`
	State string `json:"state"`
	Code  int    `json:"code"`
	Color Color  `json:"color"`
}

// FaultChangedData describes a fault flag change on a node.
type FaultChangedData struct {
	Group   int  `json:"group"`
	Zone    int  `json:"zone"`
	Faulted bool `json:"faulted"`
}

// FlashEdgeData carries one flash clock edge.
type FlashEdgeData struct {
	On bool `json:"on"`
}

// PeerStateData describes a conductor peer's connection state.
type PeerStateData struct {
	Peer   string `json:"peer"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// EventSubscriber is one websocket connection subscribed to events.
type EventSubscriber struct {
	conn   *websocket.Conn
	ctx    context.Context
	logger *zerolog.Logger
}

// EventBroadcaster fans state-change events out to websocket subscribers.
// New subscribers receive a snapshot of current state before the live feed.
// Delivery runs on a dispatch goroutine fed by a bounded queue, so Broadcast
// never blocks the caller on a slow subscriber; callers may hold their own
// locks while broadcasting.
type EventBroadcaster struct {
	subscribers map[string]*EventSubscriber
	mutex       sync.RWMutex
	logger      *zerolog.Logger
	snapshot    func() []Event
	queue       chan Event
	done        chan struct{}
	closeOnce   sync.Once
}

// NewEventBroadcaster creates a broadcaster and starts its dispatch
// goroutine. snapshot supplies the initial state pushed to each new
// subscriber; it may be nil.
func NewEventBroadcaster(logger *zerolog.Logger, snapshot func() []Event) *EventBroadcaster {
	eb := &EventBroadcaster{
		subscribers: make(map[string]*EventSubscriber),
		logger:      logger,
		snapshot:    snapshot,
		queue:       make(chan Event, 256),
		done:        make(chan struct{}),
	}
	go eb.dispatchLoop()
	return eb
}

// Close stops the dispatch goroutine. Events broadcast after Close are
// dropped.
func (eb *EventBroadcaster) Close() {
	eb.closeOnce.Do(func() { close(eb.done) })
}

// Subscribe adds a websocket connection to receive events. An existing
// subscription with the same connection ID is replaced; the connection is
// not closed because it is shared with the control channel.
func (eb *EventBroadcaster) Subscribe(connectionID string, conn *websocket.Conn, ctx context.Context, logger *zerolog.Logger) {
	eb.mutex.Lock()
	if _, exists := eb.subscribers[connectionID]; exists {
		eb.logger.Debug().Str("connectionID", connectionID).Msg("duplicate event subscription detected; replacing existing entry")
		delete(eb.subscribers, connectionID)
	}
	eb.subscribers[connectionID] = &EventSubscriber{
		conn:   conn,
		ctx:    ctx,
		logger: logger,
	}
	eb.mutex.Unlock()

	eb.logger.Debug().Str("connectionID", connectionID).Msg("event subscription added")

	go eb.sendInitialState(connectionID)
}

// Unsubscribe removes a websocket connection from events.
func (eb *EventBroadcaster) Unsubscribe(connectionID string) {
	eb.mutex.Lock()
	delete(eb.subscribers, connectionID)
	eb.mutex.Unlock()
	eb.logger.Debug().Str("connectionID", connectionID).Msg("event subscription removed")
}

// Broadcast queues an event for delivery to all subscribers. Enqueueing
// never blocks; when the queue is full the event is dropped and subscribers
// catch up from the next state change.
func (eb *EventBroadcaster) Broadcast(event Event) {
	select {
	case eb.queue <- event:
	default:
		eb.logger.Warn().Str("type", string(event.Type)).Msg("event queue full, dropping event")
	}
}

func (eb *EventBroadcaster) dispatchLoop() {
	for {
		select {
		case event := <-eb.queue:
			eb.dispatch(event)
		case <-eb.done:
			return
		}
	}
}

// dispatch writes one event to every subscriber, pruning the ones that fail.
func (eb *EventBroadcaster) dispatch(event Event) {
	eb.mutex.RLock()
	subscribersCopy := make(map[string]*EventSubscriber, len(eb.subscribers))
	for id, sub := range eb.subscribers {
		subscribersCopy[id] = sub
	}
	eb.mutex.RUnlock()

	var failed []string
	for connectionID, subscriber := range subscribersCopy {
		if !eb.sendToSubscriber(subscriber, event) {
			failed = append(failed, connectionID)
		}
	}

	if len(failed) > 0 {
		eb.mutex.Lock()
		for _, connectionID := range failed {
			delete(eb.subscribers, connectionID)
			eb.logger.Warn().Str("connectionID", connectionID).Msg("removed failed event subscriber")
		}
		eb.mutex.Unlock()
	}
}

// sendInitialState pushes the current-state snapshot to a new subscriber.
func (eb *EventBroadcaster) sendInitialState(connectionID string) {
	eb.mutex.RLock()
	subscriber, exists := eb.subscribers[connectionID]
	eb.mutex.RUnlock()
	if !exists || eb.snapshot == nil {
		return
	}
	for _, event := range eb.snapshot() {
		if !eb.sendToSubscriber(subscriber, event) {
			return
		}
	}
}

// sendToSubscriber writes one event with a bounded deadline. A false return
// marks the subscriber for removal.
func (eb *EventBroadcaster) sendToSubscriber(subscriber *EventSubscriber, event Event) bool {
	if subscriber.ctx.Err() != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(subscriber.ctx, 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, subscriber.conn, event); err != nil {
		subscriber.logger.Warn().Err(err).Msg("failed to send event to subscriber")
		return false
	}
	return true
}
