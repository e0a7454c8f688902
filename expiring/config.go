package expiring

import (
	"errors"
	"time"
)

// DefaultExpirationLength is used when Config.ExpirationLength is 0
const DefaultExpirationLength = 12 * time.Hour

type Config struct {
	// ExtendOnUpdate resets expiration of a key when its value is
	// changed. A new key always gets an expiration.
	ExtendOnUpdate bool
	// ExtendOnFetch resets expiration of a key when its value is read.
	// It turns reads into writes.
	ExtendOnFetch bool
	// ExpirationLength is how long a key lives after its expiration
	// was last set. Default: 12 hours
	ExpirationLength time.Duration
	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		ExpirationLength: DefaultExpirationLength,
		Now:              time.Now,
	}
}

func (c *Config) validate() error {
	if c.ExpirationLength < 0 {
		return errors.New("typedkv: negative ExpirationLength")
	}
	if c.ExpirationLength == 0 {
		c.ExpirationLength = DefaultExpirationLength
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}
