package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides applies CLAWDESK_* (and a few conventional) environment variables.
// It returns true when any value changed so callers can persist the updated config.
func applyEnvOverrides(cfg *Config) bool {
	if cfg == nil {
		return false
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	changed := false

	setString := func(dst *string, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		if *dst != value {
			*dst = value
			changed = true
		}
	}
	setInt := func(dst *int, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return
		}
		if *dst != parsed {
			*dst = parsed
			changed = true
		}
	}
	setBool := func(dst *bool, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return
		}
		if *dst != parsed {
			*dst = parsed
			changed = true
		}
	}

	env := func(keys ...string) string {
		for _, key := range keys {
			if value := strings.TrimSpace(os.Getenv(key)); value != "" {
				return value
			}
		}
		return ""
	}

	setString(&cfg.Storage.Type, env("CLAWDESK_STORAGE_TYPE"))
	setString(&cfg.Storage.DatabaseURL, env("CLAWDESK_STORAGE_DATABASE_URL", "CLAWDESK_CONFIG_DATABASE_URL"))
	setString(&cfg.Storage.FilePath, env("CLAWDESK_STORAGE_FILE_PATH"))
	setBool(&cfg.Storage.SSLEnabled, env("CLAWDESK_STORAGE_SSL_ENABLED"))
	setString(&cfg.Storage.PruneSchedule, env("CLAWDESK_STORAGE_PRUNE_SCHEDULE"))
	setInt(&cfg.Storage.RetentionDays, env("CLAWDESK_STORAGE_RETENTION_DAYS"))

	if strings.EqualFold(cfg.Storage.Type, "postgres") && strings.TrimSpace(cfg.Storage.DatabaseURL) == "" {
		setString(&cfg.Storage.DatabaseURL, postgresURLFromParts())
	}

	setString(&cfg.Dashboard.Token, env("CLAWDESK_DASHBOARD_TOKEN", "DASHBOARD_TOKEN"))
	setString(&cfg.Dashboard.Host, env("CLAWDESK_DASHBOARD_HOST"))
	setInt(&cfg.Dashboard.Port, env("CLAWDESK_DASHBOARD_PORT"))
	setBool(&cfg.Dashboard.Enabled, env("CLAWDESK_DASHBOARD_ENABLED"))

	setString(&cfg.API.BaseURL, env("CLAWDESK_API_BASE_URL"))
	setInt(&cfg.API.TimeoutSeconds, env("CLAWDESK_API_TIMEOUT_SECONDS"))

	setString(&cfg.Auth.AccessToken, env("CLAWDESK_AUTH_ACCESS_TOKEN"))
	setString(&cfg.Auth.TokenURL, env("CLAWDESK_AUTH_TOKEN_URL"))
	setString(&cfg.Auth.ClientID, env("CLAWDESK_AUTH_CLIENT_ID"))
	setString(&cfg.Auth.ClientSecret, env("CLAWDESK_AUTH_CLIENT_SECRET"))

	setString(&cfg.Signup.AppID, env("CLAWDESK_SIGNUP_APP_ID", "FACEBOOK_APP_ID"))
	setString(&cfg.Signup.ConfigID, env("CLAWDESK_SIGNUP_CONFIG_ID", "WHATSAPP_CONFIG_ID"))
	setString(&cfg.Signup.TrustedOriginSuffix, env("CLAWDESK_SIGNUP_TRUSTED_ORIGIN"))
	setInt(&cfg.Signup.TimeoutSeconds, env("CLAWDESK_SIGNUP_TIMEOUT_SECONDS"))

	setString(&cfg.KV.RedisURL, env("CLAWDESK_REDIS_URL", "REDIS_URL"))
	setString(&cfg.KV.RedisPassword, env("CLAWDESK_REDIS_PASSWORD", "REDIS_PASSWORD"))
	setInt(&cfg.KV.SessionTTLMinutes, env("CLAWDESK_SESSION_TTL_MINUTES"))

	setString(&cfg.Log.Level, env("CLAWDESK_LOG_LEVEL"))

	return changed
}
