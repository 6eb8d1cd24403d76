package realtime

import "time"

// Config holds the tunables of the realtime delivery layer.
type Config struct {
	ListenAddr      string
	QueueCapacity   int
	AuthTimeout     time.Duration
	PingInterval    time.Duration
	MaxMissedPongs  int
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxMessageBytes int64
	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string
	// StrictInvariants makes invariant violations panic instead of being logged.
	StrictInvariants bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8081",
		QueueCapacity:   DefaultQueueCapacity,
		AuthTimeout:     5 * time.Second,
		PingInterval:    20 * time.Second,
		MaxMissedPongs:  2,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxMessageBytes: 4096,
	}
}

// withDefaults fills every zero field from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = d.AuthTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.MaxMissedPongs <= 0 {
		c.MaxMissedPongs = d.MaxMissedPongs
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = d.MaxMessageBytes
	}
	return c
}

// idleWindow is how long a session may go without any inbound frame or pong.
func (c Config) idleWindow() time.Duration {
	return c.PingInterval * time.Duration(c.MaxMissedPongs+1)
}
