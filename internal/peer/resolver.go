package peer

import (
	"context"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
)

// mDNS service identity banks register under and the conductor browses for.
const (
	ServiceType   = "_mutegrid._tcp"
	ServiceDomain = "local."
)

// MDNSResolver resolves bank instance names by browsing the LAN for
// mutegrid service registrations and dialing the matching instance's
// control endpoint.
type MDNSResolver struct {
	logger  zerolog.Logger
	timeout time.Duration
}

// NewMDNSResolver creates a resolver with the given per-lookup browse
// timeout.
func NewMDNSResolver(timeout time.Duration, logger zerolog.Logger) *MDNSResolver {
	return &MDNSResolver{logger: logger, timeout: timeout}
}

// Resolve browses for the named instance and opens a control connection to
// it. A browse that completes without a matching instance returns
// ErrNotFound.
func (r *MDNSResolver) Resolve(ctx context.Context, name string) (Handle, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("initialize mdns resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(browseCtx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("browse: %w", err)
	}

	for entry := range entries {
		if entry == nil || entry.Instance != name {
			continue
		}
		if len(entry.AddrIPv4) == 0 {
			continue
		}
		cancel()

		addr := fmt.Sprintf("%s:%d", entry.AddrIPv4[0].String(), entry.Port)
		r.logger.Debug().Str("peer", name).Str("addr", addr).Msg("resolved peer instance")

		clientLogger := r.logger.With().Str("peer", name).Logger()
		dialCtx, dialCancel := context.WithTimeout(ctx, r.timeout)
		defer dialCancel()
		return Dial(dialCtx, addr, clientLogger)
	}

	return nil, ErrNotFound
}
