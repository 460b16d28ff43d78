package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mirkobrombin/go-gracelock/v1/identity"
	"github.com/mirkobrombin/go-gracelock/v1/validator"
)

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid setting.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Validate returns every invalid setting of c.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	oneOf(&errs, "store.driver", c.Store.Driver, ValidStoreDrivers())
	if d := strings.ToLower(c.Store.Driver); d != "memory" && c.Store.DSN == "" {
		errs = append(errs, ValidationError{Field: "store.dsn", Value: c.Store.DSN, Message: "required for " + d})
	}

	if c.Grace.Period < time.Second {
		errs = append(errs, ValidationError{Field: "grace.period", Value: c.Grace.Period, Message: "must be at least 1s"})
	}
	if c.Grace.Tick <= 0 {
		errs = append(errs, ValidationError{Field: "grace.tick", Value: c.Grace.Tick, Message: "must be positive"})
	}

	oneOf(&errs, "bus.backend", c.Bus.Backend, ValidBusBackends())
	switch strings.ToLower(c.Bus.Backend) {
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, ValidationError{Field: "redis.addr", Value: "", Message: "required by the redis bus"})
		}
	case "nats":
		if c.NATS.URL == "" {
			errs = append(errs, ValidationError{Field: "nats.url", Value: "", Message: "required by the nats bus"})
		}
	}

	oneOf(&errs, "cache.backend", c.Cache.Backend, ValidCacheBackends())
	oneOf(&errs, "log.level", c.Log.Level, ValidLogLevels())
	oneOf(&errs, "log.format", c.Log.Format, ValidLogFormats())

	if c.Identity.Tier < int(identity.TierAdmin) || c.Identity.Tier > int(identity.TierViewer) {
		errs = append(errs, ValidationError{Field: "identity.tier", Value: c.Identity.Tier, Message: "must be between 0 and 3"})
	}

	if _, err := validator.ParseMode(c.Validator.Mode); err != nil {
		errs = append(errs, ValidationError{Field: "validator.mode", Value: c.Validator.Mode, Message: "must be noop, alert or autoheal"})
	}
	if c.Validator.Interval < 0 {
		errs = append(errs, ValidationError{Field: "validator.interval", Value: c.Validator.Interval, Message: "must not be negative"})
	}
	return errs
}
