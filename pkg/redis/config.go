package redis

import "time"

// Config controls the redis connection. Redis is optional for this
// service; when REDIS_URL is unset the duplicate fast path is disabled.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
}

// Enabled reports whether a redis connection is configured.
func (c Config) Enabled() bool {
	return c.ConnectionURL != ""
}
