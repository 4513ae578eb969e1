package mutegrid

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/IDisposable/mutegrid/internal/logging"
	"github.com/IDisposable/mutegrid/internal/mute"
	"github.com/IDisposable/mutegrid/internal/peer"
)

var conductorLogger = logging.GetSubsystemLogger("muteconductor")

// Conductor aggregates mute state across a set of bank instances and
// distributes a shared flash phase to them. It exposes the same control
// protocol as a bank: an all_mute control mirroring the peer aggregate and
// accepting commands, and a flash_bus output peers follow. Its flash clock
// runs permanently in source role; the conductor never follows anyone.
type Conductor struct {
	logger   zerolog.Logger
	cfg      peer.Config
	registry *peer.Registry
	clock    *mute.FlashClock
	events   *mute.EventBroadcaster

	allMuteField  *mute.Field
	flashBusField *mute.Field
	fields        map[string]*mute.Field
}

// NewConductor wires a conductor against the given resolver.
func NewConductor(cfg peer.Config, resolver peer.Resolver, logger zerolog.Logger) *Conductor {
	c := &Conductor{
		logger: logger,
		cfg:    cfg,
		fields: make(map[string]*mute.Field),
	}

	c.allMuteField = mute.NewField("all_mute")
	c.allMuteField.SetCommandHandler(c.allMuteCommand)
	c.fields["all_mute"] = c.allMuteField

	c.flashBusField = mute.NewField("flash_bus")
	c.fields["flash_bus"] = c.flashBusField

	registryLogger := logger.With().Str("component", "peer-registry").Logger()
	c.registry = peer.NewRegistry(resolver, cfg.Peers, cfg.AutoReconnect, cfg.ReconnectInterval, registryLogger, c.refreshAggregate)

	clockLogger := logger.With().Str("component", "flash-clock").Logger()
	c.clock = mute.NewFlashClock(mute.NewSystemTimeSource(), cfg.FlashRate, clockLogger, c.flashEdge)
	c.clock.SetEnabled(true)

	eventsLogger := logger.With().Str("component", "events").Logger()
	c.events = mute.NewEventBroadcaster(&eventsLogger, c.snapshotEvents)

	c.flashBusField.Publish("0")
	c.allMuteField.Publish("")
	return c
}

// Control looks up a conductor control by name.
func (c *Conductor) Control(name string) (*mute.Field, bool) {
	f, ok := c.fields[name]
	return f, ok
}

// ControlNames returns the conductor's control names.
func (c *Conductor) ControlNames() []string {
	return []string{"all_mute", "flash_bus"}
}

// Events returns the websocket event broadcaster.
func (c *Conductor) Events() *mute.EventBroadcaster { return c.events }

// Registry returns the peer registry.
func (c *Conductor) Registry() *peer.Registry { return c.registry }

// Run polls peers until the context is cancelled.
func (c *Conductor) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollInterval)
			c.registry.Poll(pollCtx)
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the clock, the event dispatcher, and all peer connections.
func (c *Conductor) Close() {
	c.clock.SetEnabled(false)
	c.registry.Close()
	c.events.Close()
}

// allMuteCommand applies an external command on the aggregate control to
// every connected peer. Mixed is not a settable state; the command is
// dropped and the real aggregate republished.
func (c *Conductor) allMuteCommand(value string) {
	state, ok := mute.ParseCommand(value)
	if !ok || state == mute.Mixed {
		c.refreshAggregate()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PollInterval)
	defer cancel()
	if err := c.registry.CommandAll(ctx, state); err != nil {
		c.logger.Warn().Err(err).Msg("command fanout failed")
	}
	c.refreshAggregate()
}

// refreshAggregate republishes the aggregate control and peer states after a
// poll cycle or command.
func (c *Conductor) refreshAggregate() {
	state, defined := c.registry.GlobalAggregate()
	if !defined {
		c.allMuteField.Publish("")
		peer.ObserveAggregate(0, false)
	} else {
		code := mute.Encode(state, false)
		c.allMuteField.Publish(strconv.Itoa(code))
		peer.ObserveAggregate(code, true)
	}

	for _, status := range c.registry.Statuses() {
		c.events.Broadcast(mute.Event{Type: mute.EventPeerState, Data: mute.PeerStateData{
			Peer:   status.Name,
			State:  status.State,
			Reason: status.Reason,
		}})
	}
}

// flashEdge pushes each local clock edge to the flash bus control and to
// every connected peer. Peer writes are fire-and-forget and must not stall
// the clock callback.
func (c *Conductor) flashEdge(on bool) {
	value := "0"
	if on {
		value = "1"
	}
	c.flashBusField.Publish(value)
	c.events.Broadcast(mute.Event{Type: mute.EventFlashEdge, Data: mute.FlashEdgeData{On: on}})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		c.registry.BroadcastFlash(ctx, on)
	}()
}

// snapshotEvents feeds new event subscribers the current peer picture.
func (c *Conductor) snapshotEvents() []mute.Event {
	var events []mute.Event
	for _, status := range c.registry.Statuses() {
		events = append(events, mute.Event{Type: mute.EventPeerState, Data: mute.PeerStateData{
			Peer:   status.Name,
			State:  status.State,
			Reason: status.Reason,
		}})
	}
	events = append(events, mute.Event{Type: mute.EventFlashEdge, Data: mute.FlashEdgeData{On: c.clock.On()}})
	return events
}

// ConductorMain is the companion controller entrypoint.
func ConductorMain() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := peer.LoadConfig(*configPath)
	if err != nil {
		conductorLogger.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	resolverLogger := conductorLogger.With().Str("component", "resolver").Logger()
	resolver := peer.NewMDNSResolver(cfg.ResolveTimeout, resolverLogger)

	conductor := NewConductor(cfg, resolver, *conductorLogger)
	defer conductor.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conductor.Run(ctx)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: setupRouter(conductor),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			conductorLogger.Error().Err(err).Msg("control surface server failed")
			os.Exit(1)
		}
	}()

	conductorLogger.Info().
		Str("instance", cfg.InstanceName).
		Str("addr", cfg.ListenAddr).
		Int("peers", len(cfg.Peers)).
		Msg("starting muteconductor")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	conductorLogger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}
