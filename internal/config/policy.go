package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy is the optional YAML file operators use instead of long env lists.
// Unset fields leave the env value in place.
type Policy struct {
	AllowedHosts []string `yaml:"allowed_hosts"`
	Tolerance    struct {
		Total   *float64 `yaml:"total"`
		ItemSum *float64 `yaml:"item_sum"`
	} `yaml:"tolerance"`
	Retry struct {
		MaxAttempts *int           `yaml:"max_attempts"`
		Backoff     *time.Duration `yaml:"backoff"`
		MaxBackoff  *time.Duration `yaml:"max_backoff"`
		Jitter      *float64       `yaml:"jitter"`
	} `yaml:"retry"`
}

func LoadPolicy(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(raw)
}

func ParsePolicy(raw []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	return &p, nil
}

// Apply appends allowed hosts and overrides whichever tunables the file sets.
func (p *Policy) Apply(cfg *Config) {
	cfg.AllowedHosts = append(cfg.AllowedHosts, p.AllowedHosts...)
	if p.Tolerance.Total != nil {
		cfg.TotalTolerance = *p.Tolerance.Total
	}
	if p.Tolerance.ItemSum != nil {
		cfg.ItemSumTolerance = *p.Tolerance.ItemSum
	}
	if p.Retry.MaxAttempts != nil {
		cfg.RetryMaxAttempts = *p.Retry.MaxAttempts
	}
	if p.Retry.Backoff != nil {
		cfg.RetryBackoff = *p.Retry.Backoff
	}
	if p.Retry.MaxBackoff != nil {
		cfg.RetryMaxBackoff = *p.Retry.MaxBackoff
	}
	if p.Retry.Jitter != nil {
		cfg.RetryJitter = *p.Retry.Jitter
	}
}
