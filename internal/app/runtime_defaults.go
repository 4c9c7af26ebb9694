package app

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/charlesng35/casedesk/internal/gate"
	"github.com/charlesng35/casedesk/internal/permissions"
	"github.com/charlesng35/casedesk/pkg/crypto"
)

const jwtSecretBytes = 48

// ApplyRuntimeDefaults ensures critical secrets are populated even when no configuration file is supplied.
// It returns a map describing which keys were generated so callers can log the event without exposing values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	if len(cfg.Permissions.PublicModules) == 0 {
		cfg.Permissions.PublicModules = gate.DefaultPublicModules()
	}

	return generated, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Permissions.RefreshInterval < 0 {
		errs = multierr.Append(errs, fmt.Errorf("permissions.refresh_interval must not be negative"))
	}
	for _, module := range c.Permissions.PublicModules {
		if _, ok := permissions.GetModule(module); !ok {
			errs = multierr.Append(errs, fmt.Errorf("permissions.public_modules: unknown module %q", module))
		}
	}
	if c.Cache.Redis.Enabled && strings.TrimSpace(c.Cache.Redis.Address) == "" {
		errs = multierr.Append(errs, fmt.Errorf("cache.redis.address is required when redis is enabled"))
	}
	if (c.Bootstrap.AdminEmail == "") != (c.Bootstrap.AdminPassword == "") {
		errs = multierr.Append(errs, fmt.Errorf("bootstrap.admin_email and bootstrap.admin_password must be set together"))
	}
	return errs
}
