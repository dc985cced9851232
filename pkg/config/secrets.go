package config

import "strings"

type secretAccessor struct {
	Path string
	Get  func(*Config) string
	Set  func(*Config, string)
}

var secretAccessors = []secretAccessor{
	{
		Path: "dashboard.token",
		Get:  func(c *Config) string { return c.Dashboard.Token },
		Set:  func(c *Config, v string) { c.Dashboard.Token = v },
	},
	{
		Path: "auth.access_token",
		Get:  func(c *Config) string { return c.Auth.AccessToken },
		Set:  func(c *Config, v string) { c.Auth.AccessToken = v },
	},
	{
		Path: "auth.client_secret",
		Get:  func(c *Config) string { return c.Auth.ClientSecret },
		Set:  func(c *Config, v string) { c.Auth.ClientSecret = v },
	},
	{
		Path: "kv.redis_password",
		Get:  func(c *Config) string { return c.KV.RedisPassword },
		Set:  func(c *Config, v string) { c.KV.RedisPassword = v },
	},
}

func MaskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 5 {
		return "*****" + value
	}
	return "*****" + value[len(value)-5:]
}

// SecretMaskMap returns the masked form of every non-empty secret keyed by its dotted path.
func SecretMaskMap(cfg *Config) map[string]string {
	result := make(map[string]string)
	if cfg == nil {
		return result
	}
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	for _, accessor := range secretAccessors {
		if value := accessor.Get(cfg); value != "" {
			result[accessor.Path] = MaskSecret(value)
		}
	}
	return result
}

// ApplySecretUpdates sets secrets by dotted path; blank values are ignored.
func ApplySecretUpdates(cfg *Config, updates map[string]string) {
	if cfg == nil || len(updates) == 0 {
		return
	}
	cfg.mu.Lock()
	defer cfg.mu.Unlock()
	for _, accessor := range secretAccessors {
		if value, ok := updates[accessor.Path]; ok && strings.TrimSpace(value) != "" {
			accessor.Set(cfg, strings.TrimSpace(value))
		}
	}
}

func ClearSecrets(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.mu.Lock()
	defer cfg.mu.Unlock()
	for _, accessor := range secretAccessors {
		accessor.Set(cfg, "")
	}
}
