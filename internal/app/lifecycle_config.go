package app

import (
	"strings"
	"time"

	"github.com/charlesng35/seatkeeper/internal/auth"
	"github.com/charlesng35/seatkeeper/internal/database"
)

// InviteValidity is how long an invite code stays usable.
func (c LifecycleConfig) InviteValidity() time.Duration {
	return time.Duration(c.InviteValiditySeconds) * time.Second
}

// ReactivationValidity is how long a reactivation code stays usable.
func (c LifecycleConfig) ReactivationValidity() time.Duration {
	return time.Duration(c.ReactivationValiditySeconds) * time.Second
}

// EmailChangeValidity is how long an email change code stays usable.
func (c LifecycleConfig) EmailChangeValidity() time.Duration {
	return time.Duration(c.EmailChangeValiditySeconds) * time.Second
}

// SessionServiceConfig converts session settings for the auth package.
func (c AuthConfig) SessionServiceConfig() auth.SessionConfig {
	return auth.SessionConfig{
		TTL:         c.Session.TTL,
		TokenLength: c.Session.TokenLength,
	}
}

// DatabaseSettings converts the configured driver into database.Config.
func (c DatabaseConfig) DatabaseSettings() database.Config {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	cfg := database.Config{
		Driver: driver,
		Path:   c.Path,
		DSN:    c.DSN,
	}

	var creds DBAuthConfig
	switch driver {
	case "postgres", "postgresql":
		creds = c.Postgres
	case "mysql":
		creds = c.MySQL
	default:
		return cfg
	}
	cfg.Host = creds.Host
	cfg.Port = creds.Port
	cfg.Name = creds.Database
	cfg.User = creds.Username
	cfg.Password = creds.Password
	return cfg
}
