package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"strings"
)

func (c *Config) EnsureDashboardToken() (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.TrimSpace(c.Dashboard.Token) != "" {
		return "", false, nil
	}

	token, err := generateToken(24)
	if err != nil {
		return "", false, err
	}

	c.Dashboard.Token = token
	return token, true, nil
}

func (c *Config) RotateDashboardToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, err := generateToken(24)
	if err != nil {
		return "", err
	}

	c.Dashboard.Token = token
	return token, nil
}

// DashboardToken returns the current bearer token for the dashboard API.
func (c *Config) DashboardToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Dashboard.Token
}

func generateToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ApplyStorageUpdate replaces the storage section; it takes effect on restart.
func (c *Config) ApplyStorageUpdate(update StorageConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Storage = update
}

// Clone returns a deep copy that is safe to read without holding the config lock.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	data, err := json.Marshal(c)
	path := c.path
	c.mu.RUnlock()
	if err != nil {
		return DefaultConfig()
	}
	clone := DefaultConfig()
	// maps in the defaults would otherwise be merged with the copied values
	clone.Signup.Extras = nil
	if err := json.Unmarshal(data, clone); err != nil {
		return DefaultConfig()
	}
	clone.path = path
	return clone
}
