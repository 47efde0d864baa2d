package ldapsource

import (
	"fmt"
	"strconv"
	"time"
)

// Config describes one LDAP directory to mirror as a read-only
// contact Source: connection parameters plus the attribute mapping
// that turns an entry into a vCard.
type Config struct {
	URL                string
	BindDN             string
	BindPassword       string
	RequireTLS         bool
	InsecureSkipVerify bool
	Timeout            time.Duration
	CacheTTL           time.Duration

	BaseDN string
	Filter string

	MapUID          string
	MapDisplayName  string
	MapFirstName    string
	MapLastName     string
	MapEmail        string
	MapPhone        string
	MapOrganization string
	MapTitle        string
}

// ConfigFromParams builds a Config from the flat string map a
// LocalAccount's params carry in the account file, applying the same
// defaults NewLDAPContactClient's caller relied on in the teacher's
// server.
func ConfigFromParams(params map[string]string) (Config, error) {
	cfg := Config{
		URL:             params["url"],
		BindDN:          params["bind_dn"],
		BindPassword:    params["bind_password"],
		BaseDN:          params["base_dn"],
		Filter:          params["filter"],
		MapUID:          firstNonEmpty(params["map_uid"], "uid"),
		MapDisplayName:  firstNonEmpty(params["map_display_name"], "displayName"),
		MapFirstName:    params["map_first_name"],
		MapLastName:     params["map_last_name"],
		MapEmail:        firstNonEmpty(params["map_email"], "mail"),
		MapPhone:        firstNonEmpty(params["map_phone"], "telephoneNumber"),
		MapOrganization: firstNonEmpty(params["map_organization"], "o"),
		MapTitle:        firstNonEmpty(params["map_title"], "title"),
		Timeout:         10 * time.Second,
		CacheTTL:        30 * time.Second,
	}
	if cfg.URL == "" {
		return Config{}, fmt.Errorf("ldapsource: params.url is required")
	}
	if cfg.BaseDN == "" {
		return Config{}, fmt.Errorf("ldapsource: params.base_dn is required")
	}
	if cfg.Filter == "" {
		cfg.Filter = "(objectClass=person)"
	}
	if v := params["require_tls"]; v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("ldapsource: params.require_tls: %w", err)
		}
		cfg.RequireTLS = b
	}
	if v := params["insecure_skip_verify"]; v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("ldapsource: params.insecure_skip_verify: %w", err)
		}
		cfg.InsecureSkipVerify = b
	}
	if v := params["timeout_seconds"]; v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("ldapsource: params.timeout_seconds: %w", err)
		}
		cfg.Timeout = time.Duration(secs) * time.Second
	}
	if v := params["cache_ttl_seconds"]; v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("ldapsource: params.cache_ttl_seconds: %w", err)
		}
		cfg.CacheTTL = time.Duration(secs) * time.Second
	}
	return cfg, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
