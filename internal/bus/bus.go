package bus

import (
	"errors"
	"fmt"

	"github.com/opensource-health/readmit/internal/domain"
)

var (
	// ErrClosed is returned by a bus after Close.
	ErrClosed = errors.New("bus is closed")

	// ErrDatasetRequired is returned when a call omits the dataset id.
	ErrDatasetRequired = errors.New("datasetID is required")

	// ErrBufferFull is returned when a subscriber cannot accept a message.
	ErrBufferFull = errors.New("subscriber buffer full")
)

// New creates a new event bus based on configuration.
// "channel" returns an in-process ChannelBus, "nats" a NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
