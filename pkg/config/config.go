package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Config struct {
	Dashboard DashboardConfig `json:"dashboard" yaml:"dashboard"`
	API       APIConfig       `json:"api" yaml:"api"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Signup    SignupConfig    `json:"signup" yaml:"signup"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	KV        KVConfig        `json:"kv" yaml:"kv"`
	Agents    AgentsConfig    `json:"agents" yaml:"agents"`
	Log       LogConfig       `json:"log" yaml:"log"`

	mu   sync.RWMutex
	path string
}

type DashboardConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
	Token   string `json:"token" yaml:"token"`
}

// APIConfig points at the upstream agent API that serves the event streams.
type APIConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// AuthConfig describes how bearer tokens for the agent API are obtained.
// A static AccessToken wins over the client-credentials flow.
type AuthConfig struct {
	AccessToken  string   `json:"access_token" yaml:"access_token"`
	TokenURL     string   `json:"token_url" yaml:"token_url"`
	ClientID     string   `json:"client_id" yaml:"client_id"`
	ClientSecret string   `json:"client_secret" yaml:"client_secret"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

type SignupConfig struct {
	AppID               string                 `json:"app_id" yaml:"app_id"`
	ConfigID            string                 `json:"config_id" yaml:"config_id"`
	GraphVersion        string                 `json:"graph_version" yaml:"graph_version"`
	TrustedOriginSuffix string                 `json:"trusted_origin_suffix" yaml:"trusted_origin_suffix"`
	TimeoutSeconds      int                    `json:"timeout_seconds" yaml:"timeout_seconds"`
	Extras              map[string]interface{} `json:"extras,omitempty" yaml:"extras,omitempty"`
}

type StorageConfig struct {
	Type          string `json:"type" yaml:"type"` // "sqlite" or "postgres"
	DatabaseURL   string `json:"database_url" yaml:"database_url"`
	FilePath      string `json:"file_path" yaml:"file_path"`
	SSLEnabled    bool   `json:"ssl_enabled" yaml:"ssl_enabled"`
	PruneSchedule string `json:"prune_schedule" yaml:"prune_schedule"` // cron expression
	RetentionDays int    `json:"retention_days" yaml:"retention_days"`
}

type KVConfig struct {
	RedisURL          string `json:"redis_url" yaml:"redis_url"`
	RedisPassword     string `json:"redis_password" yaml:"redis_password"`
	SessionTTLMinutes int    `json:"session_ttl_minutes" yaml:"session_ttl_minutes"`
}

type AgentsConfig struct {
	Default string `json:"default" yaml:"default"`
}

type LogConfig struct {
	Level   string `json:"level" yaml:"level"`
	Console bool   `json:"console" yaml:"console"`
}

func DefaultConfig() *Config {
	return &Config{
		Dashboard: DashboardConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    18790,
		},
		API: APIConfig{
			BaseURL:        "http://localhost:8000/api",
			TimeoutSeconds: 0,
		},
		Signup: SignupConfig{
			GraphVersion:        "v21.0",
			TrustedOriginSuffix: "facebook.com",
			TimeoutSeconds:      60,
			Extras: map[string]interface{}{
				"setup":              map[string]interface{}{},
				"featureType":        "",
				"sessionInfoVersion": "3",
			},
		},
		Storage: StorageConfig{
			Type:          "sqlite",
			FilePath:      filepath.Join(homeDir(), ".clawdesk", "data.db"),
			PruneSchedule: "@daily",
			RetentionDays: 30,
		},
		KV: KVConfig{
			RedisURL:          "localhost:6379",
			SessionTTLMinutes: 30,
		},
		Agents: AgentsConfig{
			Default: "default",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// SignupTimeout is the window granted to the second signup source once the first has landed.
func (c *Config) SignupTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Signup.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Signup.TimeoutSeconds) * time.Second
}

// APITimeout is the overall HTTP timeout for stream requests; zero means none.
func (c *Config) APITimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

func (c *Config) SessionTTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.KV.SessionTTLMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.KV.SessionTTLMinutes) * time.Minute
}

func (c *Config) DefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Agents.Default != "" {
		return c.Agents.Default
	}
	return "default"
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
