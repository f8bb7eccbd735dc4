package inference

import "github.com/rs/zerolog"

// Option is a functional option for configuring inference components.
type Option func(*Config) error

// Config holds configuration shared by engines.
type Config struct {
	// EventSinks receive every event, in the order they were added.
	EventSinks []EventSink
	// StructuredOutput, when enabled, is sent as the response format.
	StructuredOutput *StructuredOutputConfig
	Logger           zerolog.Logger
}

func NewConfig() *Config {
	return &Config{
		EventSinks: make([]EventSink, 0),
		Logger:     zerolog.Nop(),
	}
}

func WithSink(sink EventSink) Option {
	return func(c *Config) error {
		c.EventSinks = append(c.EventSinks, sink)
		return nil
	}
}

func WithStructuredOutput(cfg StructuredOutputConfig) Option {
	return func(c *Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.StructuredOutput = &cfg
		return nil
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}

func ApplyOptions(config *Config, options ...Option) error {
	for _, option := range options {
		if err := option(config); err != nil {
			return err
		}
	}
	return nil
}
