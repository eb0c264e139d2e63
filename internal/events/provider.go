package events

import (
	"fmt"
	"strings"

	"github.com/samotage/claude-headspace-sub014/internal/config"
	"github.com/samotage/claude-headspace-sub014/internal/events/bus"
	"github.com/samotage/claude-headspace-sub014/internal/logging"
)

// ProvidedBus wraps the active event bus implementation so callers can reach
// the concrete type when they need backend-specific diagnostics.
type ProvidedBus struct {
	Bus    bus.EventBus
	Memory *bus.MemoryEventBus
	NATS   *bus.NATSEventBus
}

// Provide builds the configured event bus: NATS when events.natsUrl is set,
// the in-memory bus otherwise. A single-process deployment of headspace never
// needs NATS; it exists so multiple headspaced instances on the same
// workstation (or a shared host) can share one broadcast fabric.
func Provide(cfg *config.Config, log *logging.Logger) (*ProvidedBus, func() error, error) {
	if strings.TrimSpace(cfg.Events.NatsURL) != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.Events, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize NATS event bus: %w", err)
		}
		return &ProvidedBus{Bus: natsBus, NATS: natsBus}, func() error { natsBus.Close(); return nil }, nil
	}

	memBus := bus.NewMemoryEventBus(log)
	return &ProvidedBus{Bus: memBus, Memory: memBus}, func() error { return nil }, nil
}
