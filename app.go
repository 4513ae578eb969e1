package mutegrid

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/IDisposable/mutegrid/internal/logging"
	"github.com/IDisposable/mutegrid/internal/mute"
	"github.com/IDisposable/mutegrid/internal/peer"
)

var logger = logging.GetSubsystemLogger("mutegrid")

// Main is the bank instance entrypoint: it owns a mute grid, serves the
// HTTP/websocket control surface, and advertises itself over mDNS so a
// conductor can find it by name.
func Main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := mute.LoadConfig(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	managerLogger := logger.With().Str("component", "manager").Logger()
	manager := mute.NewManager(cfg, mute.NewSystemTimeSource(), managerLogger)
	defer manager.Close()

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: setupRouter(manager),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("control surface server failed")
			os.Exit(1)
		}
	}()

	if svc, err := zeroconf.Register(cfg.InstanceName, peer.ServiceType, peer.ServiceDomain, listenPort(cfg.ListenAddr), []string{"version=1"}, nil); err != nil {
		logger.Warn().Err(err).Msg("failed to register mDNS service")
	} else {
		defer svc.Shutdown()
	}

	logger.Info().
		Str("instance", cfg.InstanceName).
		Str("addr", cfg.ListenAddr).
		Int("groups", cfg.GroupCount).
		Int("zones_per_group", cfg.ZonesPerGroup).
		Msg("starting mutegrid")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

// listenPort extracts the numeric port from a listen address for mDNS
// registration.
func listenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}
