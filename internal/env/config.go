package env

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/luma/relay/transport"
)

type Config struct {
	LogLevel  string `env:"RELAY_LOG_LEVEL,default=info"`
	DebugHTTP bool   `env:"RELAY_DEBUG_HTTP"`

	Reuseport    bool `env:"RELAY_REUSEPORT,default=true"`
	NumListeners int  `env:"RELAY_LISTENERS"`

	// Applied to every accepted connection
	NoDelay       bool          `env:"RELAY_NO_DELAY,default=true"`
	KeepAlive     time.Duration `env:"RELAY_KEEP_ALIVE"`
	IdleTimeout   time.Duration `env:"RELAY_IDLE_TIMEOUT"`
	HighWaterMark int           `env:"RELAY_HIGH_WATER_MARK"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			panic(err)
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ConnOptions returns the connection options described by the config.
func (c *Config) ConnOptions() []transport.Option {
	opts := []transport.Option{
		transport.WithNoDelay(c.NoDelay),
	}

	if c.KeepAlive > 0 {
		opts = append(opts, transport.WithKeepAlive(true, c.KeepAlive))
	}

	if c.IdleTimeout > 0 {
		opts = append(opts, transport.WithTimeout(c.IdleTimeout))
	}

	if c.HighWaterMark > 0 {
		opts = append(opts, transport.WithHighWaterMark(c.HighWaterMark))
	}

	return opts
}
