package events

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kandev/acpchat/internal/chat"
	"github.com/kandev/acpchat/internal/common/config"
	"github.com/kandev/acpchat/internal/common/logger"
	"github.com/kandev/acpchat/internal/events/bus"
)

// ProvidedBus wraps the active event bus implementation.
type ProvidedBus struct {
	Bus    bus.EventBus
	Memory *bus.MemoryEventBus
	NATS   *bus.NATSEventBus
}

// Provide builds the NATS bus when a URL is configured, the memory bus
// otherwise.
func Provide(cfg *config.Config, log *logger.Logger) (*ProvidedBus, func() error, error) {
	if strings.TrimSpace(cfg.NATS.URL) != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize NATS event bus: %w", err)
		}
		cleanup := func() error {
			natsBus.Close()
			return nil
		}
		return &ProvidedBus{Bus: natsBus, NATS: natsBus}, cleanup, nil
	}

	memBus := bus.NewMemoryEventBus(log)
	cleanup := func() error {
		memBus.Close()
		return nil
	}
	return &ProvidedBus{Bus: memBus, Memory: memBus}, cleanup, nil
}

// ChatListener republishes stored chat messages on the room subjects.
func ChatListener(eb bus.EventBus, log *logger.Logger) chat.Listener {
	return func(ctx context.Context, evt chat.Event) {
		eventType := MessageAdded
		if evt.Type == chat.EventMessageUpdated {
			eventType = MessageUpdated
		}
		data := map[string]any{
			"room_id": evt.RoomID,
			"message": evt.Message,
		}
		if err := eb.Publish(ctx, RoomSubject(evt.RoomID, eventType), bus.NewEvent(eventType, "chat", data)); err != nil {
			log.Debug("failed to publish chat event", zap.String("room_id", evt.RoomID), zap.Error(err))
		}
	}
}
