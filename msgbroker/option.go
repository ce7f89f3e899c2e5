package msgbroker

import (
	"fmt"
	"time"
)

// DefaultRegisterHandlerConfig is the default configuration for registered handlers.
var DefaultRegisterHandlerConfig = RegisterHandlerConfig{
	AckDeadline: time.Second * 10,
}

// RegisterHandlerConfig is the configuration for registered handlers.
type RegisterHandlerConfig struct {
	AckDeadline time.Duration
}

// Option applies a configuration change.
type Option func(*RegisterHandlerConfig) error

// WithACKDeadline configures the deadline for the message broker subscription.
func WithACKDeadline(deadline time.Duration) Option {
	return func(c *RegisterHandlerConfig) error {
		if deadline <= 0 {
			return fmt.Errorf("ack deadline must be positive, got %s", deadline)
		}
		c.AckDeadline = deadline
		return nil
	}
}

// ApplyRegisterHandlerOptions applies a set of options to the default configuration.
func ApplyRegisterHandlerOptions(opts ...Option) (RegisterHandlerConfig, error) {
	config := DefaultRegisterHandlerConfig
	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return RegisterHandlerConfig{}, err
		}
	}

	return config, nil
}
