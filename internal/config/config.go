// Package config loads tenant credentials and policy rules from
// config.yaml, searching the same path order the Python services used
// (ICES_CONFIG_PATH env override, then a Docker-mount path, then a
// repo-relative path), falling back to a single env-var-defined tenant
// when no file is found. Grounded on
// original_source/shared/src/ices_shared/config.py.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/policy"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/token"
)

// Config is the fully parsed, typed configuration for one process.
type Config struct {
	Tenants  []token.TenantCredentials
	Policies []policy.Rule
}

type rawTenant struct {
	TenantID     string   `mapstructure:"tenant_id"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	TokenURL     string   `mapstructure:"token_url"`
	Scopes       []string `mapstructure:"scopes"`
}

type rawWhen struct {
	Analyzer    []string `mapstructure:"analyzer"`
	Observation string   `mapstructure:"observation"`
	Equals      *string  `mapstructure:"equals"`
	GTE         *float64 `mapstructure:"gte"`
	LTE         *float64 `mapstructure:"lte"`
	Contains    *string  `mapstructure:"contains"`
	Exists      *bool    `mapstructure:"exists"`
}

type rawPolicy struct {
	Name       string   `mapstructure:"name"`
	Tenant     string   `mapstructure:"tenant"`
	Sender     string   `mapstructure:"sender"`
	Recipients []string `mapstructure:"recipients"`
	When       rawWhen  `mapstructure:"when"`
	Action     string   `mapstructure:"action"`
}

// Load searches the standard config paths (or the path named by
// ICES_CONFIG_PATH) for config.yaml and parses its tenants/policies
// sections. A missing file is not an error: Load returns a Config built
// from the single-tenant environment-variable fallback instead.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if override := os.Getenv("ICES_CONFIG_PATH"); override != "" {
		v.SetConfigFile(override)
		if err := v.ReadInConfig(); err == nil {
			return parse(v)
		}
	}

	for _, path := range []string{"/app/config/config.yaml", "./config/config.yaml"} {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err == nil {
			return parse(v)
		}
	}

	return envFallback(), nil
}

func parse(v *viper.Viper) (*Config, error) {
	var rawTenants []rawTenant
	if err := v.UnmarshalKey("tenants", &rawTenants); err != nil {
		return nil, fmt.Errorf("parse tenants: %w", err)
	}
	var rawPolicies []rawPolicy
	if err := v.UnmarshalKey("policies", &rawPolicies); err != nil {
		return nil, fmt.Errorf("parse policies: %w", err)
	}

	cfg := &Config{
		Tenants:  make([]token.TenantCredentials, 0, len(rawTenants)),
		Policies: make([]policy.Rule, 0, len(rawPolicies)),
	}
	for _, t := range rawTenants {
		cfg.Tenants = append(cfg.Tenants, token.TenantCredentials{
			TenantID:     t.TenantID,
			ClientID:     t.ClientID,
			ClientSecret: t.ClientSecret,
			TokenURL:     t.TokenURL,
			Scopes:       t.Scopes,
		})
	}
	for _, p := range rawPolicies {
		cfg.Policies = append(cfg.Policies, policy.Rule{
			Name:       p.Name,
			Tenant:     p.Tenant,
			Sender:     p.Sender,
			Recipients: p.Recipients,
			Action:     strings.ToLower(p.Action),
			When: policy.When{
				Analyzer:    p.When.Analyzer,
				Observation: p.When.Observation,
				Equals:      p.When.Equals,
				GTE:         p.When.GTE,
				LTE:         p.When.LTE,
				Contains:    p.When.Contains,
				Exists:      p.When.Exists,
			},
		})
	}
	return cfg, nil
}

// envFallback builds a single-tenant Config from ICES_TENANT_ID/
// ICES_CLIENT_ID/ICES_CLIENT_SECRET/ICES_TOKEN_URL, for deployments that
// run one tenant per process without a mounted config.yaml.
func envFallback() *Config {
	tenantID := os.Getenv("ICES_TENANT_ID")
	if tenantID == "" {
		return &Config{}
	}
	var scopes []string
	if raw := os.Getenv("ICES_TOKEN_SCOPES"); raw != "" {
		scopes = strings.Split(raw, ",")
	}
	return &Config{
		Tenants: []token.TenantCredentials{{
			TenantID:     tenantID,
			ClientID:     os.Getenv("ICES_CLIENT_ID"),
			ClientSecret: os.Getenv("ICES_CLIENT_SECRET"),
			TokenURL:     os.Getenv("ICES_TOKEN_URL"),
			Scopes:       scopes,
		}},
	}
}
