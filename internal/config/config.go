// Package config loads pimsync's account and engine configuration:
// environment-variable overrides layered on a declarative per-account
// YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ItemType selects which CalDAV component a calendar account syncs.
type ItemType string

const (
	ItemTypeEvent ItemType = "event"
	ItemTypeTask  ItemType = "task"
)

// DAVAccount is one CardDAV or CalDAV account.
type DAVAccount struct {
	Name           string   `yaml:"name"`
	Kind           string   `yaml:"kind"` // carddav | caldav
	ServerURL      string   `yaml:"server_url"`
	CollectionURL  string   `yaml:"collection_url,omitempty"`
	CalendarName   string   `yaml:"calendar_name,omitempty"`
	ItemType       ItemType `yaml:"item_type,omitempty"`
	Login          string   `yaml:"login,omitempty"`
	Password       string   `yaml:"password,omitempty"`
	ClientID       string   `yaml:"client_id,omitempty"`
	ClientSecret   string   `yaml:"client_secret,omitempty"`
	RefreshToken   string   `yaml:"refresh_token,omitempty"`
	TokenURL       string   `yaml:"token_url,omitempty"`
	InsecureSkipTLS bool    `yaml:"insecure_skip_tls,omitempty"`
}

// LocalAccount is one local Store endpoint.
type LocalAccount struct {
	Name   string            `yaml:"name"`
	Plugin string            `yaml:"plugin"` // sqlite | ldap
	Params map[string]string `yaml:"params,omitempty"`
}

// SyncPair couples a remote DAV account to a local account under one
// sync mode ("oneway" or "twoway"), plus the engine-level options that
// control batching and per-phase field exclusions.
type SyncPair struct {
	Name                   string   `yaml:"name"`
	Mode                   string   `yaml:"mode"` // oneway | twoway
	Remote                 string   `yaml:"remote"`
	Local                  string   `yaml:"local"`
	BatchSize              int      `yaml:"batch_size,omitempty"`
	SyncProgressFrequency  float64  `yaml:"sync_progress_frequency,omitempty"`
	Phases                 []Phase  `yaml:"phases,omitempty"`
	MetadataPath           string   `yaml:"metadata_path"`
}

// Phase is one one-way sync phase.
type Phase struct {
	Name          string   `yaml:"name"`
	IgnoredFields []string `yaml:"ignored_fields,omitempty"`
}

// Config is the full account file.
type Config struct {
	LogLevel string         `yaml:"log_level,omitempty"`
	DAV      []DAVAccount   `yaml:"dav,omitempty"`
	Local    []LocalAccount `yaml:"local,omitempty"`
	Sync     []SyncPair     `yaml:"sync,omitempty"`
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads the YAML account file at path, then applies a small set
// of env-var overrides useful for running the same file against
// different credentials (CI, per-host secrets).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.LogLevel = getenv("PIMSYNC_LOG_LEVEL", cfg.LogLevel)
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	for i := range cfg.DAV {
		applyAccountEnvOverrides(&cfg.DAV[i])
	}
	for i := range cfg.Sync {
		if cfg.Sync[i].BatchSize == 0 {
			cfg.Sync[i].BatchSize = defaultBatchSize
		}
		if cfg.Sync[i].SyncProgressFrequency == 0 {
			cfg.Sync[i].SyncProgressFrequency = defaultProgressFrequency
		}
	}

	return &cfg, nil
}

const (
	defaultBatchSize        = 100
	defaultProgressFrequency = 0.2 // seconds
)

// applyAccountEnvOverrides lets PIMSYNC_<NAME>_PASSWORD and
// PIMSYNC_<NAME>_REFRESH_TOKEN override YAML-committed placeholders,
// so credential files never need secrets checked in.
func applyAccountEnvOverrides(a *DAVAccount) {
	key := envKey(a.Name)
	a.Password = getenv("PIMSYNC_"+key+"_PASSWORD", a.Password)
	a.RefreshToken = getenv("PIMSYNC_"+key+"_REFRESH_TOKEN", a.RefreshToken)
	a.ClientSecret = getenv("PIMSYNC_"+key+"_CLIENT_SECRET", a.ClientSecret)
}

func envKey(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-('a'-'A'))
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// requestTimeoutEnv resolves RequestTimeout, the dial+read timeout a
// Session implementation should apply per request; the engine itself
// never retries.
func requestTimeoutEnv() time.Duration {
	v := getenv("PIMSYNC_REQUEST_TIMEOUT", "30s")
	d, err := strconv.Atoi(v)
	if err == nil {
		return time.Duration(d) * time.Second
	}
	if parsed, err := time.ParseDuration(v); err == nil {
		return parsed
	}
	return 30 * time.Second
}

// RequestTimeout is the dial+read timeout cmd/pimsync wires into its
// default Session.
var RequestTimeout = requestTimeoutEnv()
