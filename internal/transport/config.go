package transport

import "time"

// BackoffConfig defines redial backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration `toml:"initial_delay"`
	Multiplier   float64       `toml:"multiplier"`
	MaxDelay     time.Duration `toml:"max_delay"`
	Jitter       bool          `toml:"jitter"`
}

// TLSConfig names the certificate material for TLS carriers.
type TLSConfig struct {
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	Mutual             bool   `toml:"mutual"`
}

// Config defines carrier timeouts and retry policy shared by every plugin.
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	Backoff          BackoffConfig
	// MaxDialAttempts is the number of consecutive failed dials before a
	// connection worker gives up. Zero retries forever.
	MaxDialAttempts int
	DefaultBaud     int
	TLS             TLSConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		MaxDialAttempts: 8,
		DefaultBaud:     9600,
	}
}

// WithDefaults fills zero durations and counts from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	if c.MaxDialAttempts < 0 {
		c.MaxDialAttempts = 0
	}
	if c.DefaultBaud <= 0 {
		c.DefaultBaud = def.DefaultBaud
	}
	return c
}
