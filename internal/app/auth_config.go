package app

import (
	"strings"

	"github.com/charlesng35/softcenter/internal/auth"
	"github.com/charlesng35/softcenter/internal/services"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// CredentialServiceConfig converts the reset settings into CredentialService parameters.
func (c *Config) CredentialServiceConfig() services.CredentialConfig {
	return services.CredentialConfig{
		ResetMode: c.Auth.PasswordReset.Mode,
		ResetTTL:  c.Auth.PasswordReset.TTL,
		AppName:   c.Email.AppName,
	}
}

// SessionServiceConfig schedules post-login snapshot refreshes only when the server
// collects system facts itself.
func (c *Config) SessionServiceConfig() services.SessionConfig {
	return services.SessionConfig{RefreshSnapshot: c.Snapshot.Source == SnapshotSourceServer}
}

// HasBootstrapAdmin reports whether an initial admin account is configured.
func (c BootstrapAdminConfig) HasBootstrapAdmin() bool {
	return strings.TrimSpace(c.Email) != "" && c.Password != ""
}
