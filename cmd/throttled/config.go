// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	throttle "github.com/plsmphnx/go-throttle"
	"github.com/plsmphnx/go-throttle/throttlehttp"
)

// config describes the throttled YAML configuration.
type config struct {
	ListenAddr string `yaml:"listen_addr"`
	Upstream   string `yaml:"upstream"`
	Store      struct {
		Partitions int    `yaml:"partitions"`
		GCInterval uint64 `yaml:"gc_interval"`
	} `yaml:"store"`
	Log struct {
		Development bool `yaml:"development"`
	} `yaml:"log"`
	Rules []ruleConfig `yaml:"rules"`
}

// ruleConfig is one throttled path prefix.
type ruleConfig struct {
	Path   string        `yaml:"path"`
	Limit  int64         `yaml:"limit"`
	Period time.Duration `yaml:"period"`
	Key    string        `yaml:"key"`
}

// loadConfig reads and validates the configuration file.
func loadConfig(path string) (config, error) {
	var cfg config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Store.Partitions == 0 {
		cfg.Store.Partitions = throttle.DefaultPartitions
	}
	if cfg.Store.GCInterval == 0 {
		cfg.Store.GCInterval = throttle.DefaultGCInterval
	}
	if cfg.Upstream == "" {
		return cfg, fmt.Errorf("upstream is required")
	}
	if _, err := url.Parse(cfg.Upstream); err != nil {
		return cfg, fmt.Errorf("invalid upstream: %w", err)
	}
	for i, rule := range cfg.Rules {
		if !strings.HasPrefix(rule.Path, "/") {
			return cfg, fmt.Errorf("rules[%d].path must start with /", i)
		}
		if rule.Limit <= 0 {
			return cfg, fmt.Errorf("rules[%d].limit must be positive", i)
		}
		if rule.Period <= 0 {
			return cfg, fmt.Errorf("rules[%d].period must be positive", i)
		}
		if _, err := keyFunc(rule.Key); err != nil {
			return cfg, fmt.Errorf("rules[%d].key: %w", i, err)
		}
	}
	return cfg, nil
}

// storeConfigs converts the store section to throttle options.
func storeConfigs(cfg config) []throttle.Config {
	return []throttle.Config{
		throttle.WithPartitions(cfg.Store.Partitions),
		throttle.WithGCInterval(cfg.Store.GCInterval),
	}
}

// keyFunc parses a rule key: "ip" (the default) or "header:<Name>".
func keyFunc(name string) (throttlehttp.KeyFunc, error) {
	switch {
	case name == "" || name == "ip":
		return throttlehttp.KeyByRemoteIP, nil
	case strings.HasPrefix(name, "header:"):
		header := strings.TrimSpace(strings.TrimPrefix(name, "header:"))
		if header == "" {
			return nil, fmt.Errorf("header name is empty")
		}
		return throttlehttp.KeyByHeader(header), nil
	default:
		return nil, fmt.Errorf("unknown key %q", name)
	}
}
