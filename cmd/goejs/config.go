package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"sync"

	"github.com/CTAG07/goejs/pkg/templating"
	"github.com/natefinch/atomic"
)

// ServerConfig holds the configuration for the HTTP servers.
type ServerConfig struct {
	ServerAddr     string             `json:"server_addr"`
	ApiAddr        string             `json:"api_addr"`
	LogLevel       string             `json:"log_level"`
	TrustedProxies []string           `json:"trusted_proxies"`
	DataDir        string             `json:"data_dir"`
	StorePath      string             `json:"store_path"`
	APIToken       string             `json:"api_token"`
	Compression    *CompressionConfig `json:"compression"`
}

// CompressionConfig controls gzip compression of rendered pages.
type CompressionConfig struct {
	Enabled bool   `json:"enabled"`
	Level   string `json:"level"`
	MinSize int    `json:"min_size"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server    *ServerConfig              `json:"server_config"`
	Templates *templating.TemplateConfig `json:"template_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ServerAddr:     ":7277",
		ApiAddr:        ":7278",
		LogLevel:       "info",
		TrustedProxies: []string{},
		DataDir:        "./data",
		StorePath:      "",
		APIToken:       "",
		Compression: &CompressionConfig{
			Enabled: true,
			Level:   "default",
			MinSize: 1024,
		},
	}
}

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Templates: templating.DefaultConfig(),
	}
}

// LoadConfig reads the configuration from a JSON file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			var data []byte
			data, err = json.MarshalIndent(config, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The server can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.Server == nil {
		config.Server = DefaultServerConfig()
	}
	if config.Templates == nil {
		config.Templates = templating.DefaultConfig()
	}

	return config, nil
}

// ConfigManager guards the live configuration and pushes template settings
// into the template manager.
type ConfigManager struct {
	mu      sync.RWMutex
	path    string
	config  *Config
	trusted []netip.Prefix
	logger  *slog.Logger
	tm      *templating.TemplateManager
}

// NewConfigManager loads the config at path.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	cm := &ConfigManager{
		path:   path,
		config: cfg,
		// Replaced by SetLogger once the configured log level is known.
		logger: slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}
	cm.trusted = parseTrustedProxies(cfg.Server.TrustedProxies, cm.logger)
	return cm, nil
}

// SetTemplateManager hands the current template settings to tm and keeps it
// for later updates.
func (cm *ConfigManager) SetTemplateManager(tm *templating.TemplateManager) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.tm = tm
	if tm != nil {
		tm.SetConfig(cm.config.Templates)
	}
}

func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	cm.mu.Lock()
	cm.logger = logger
	cm.mu.Unlock()
}

// Get returns a copy of the top-level config. The sections are shared.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return *cm.config
}

// Update validates next, applies its template section and persists it. If the
// template manager cannot refresh with the new section, the previous one is
// restored and nothing is written.
func (cm *ConfigManager) Update(next Config) error {
	if next.Server == nil || next.Templates == nil {
		return fmt.Errorf("config must contain both server_config and template_config")
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if err := cm.applyTemplates(next.Templates); err != nil {
		return err
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	*cm.config = next
	cm.trusted = parseTrustedProxies(next.Server.TrustedProxies, cm.logger)
	cm.logger.Info("Configuration updated", "path", cm.path)

	if err = atomic.WriteFile(cm.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyTemplates must be called with cm.mu held.
func (cm *ConfigManager) applyTemplates(next *templating.TemplateConfig) error {
	if cm.tm == nil {
		return nil
	}
	prev := cm.config.Templates
	cm.tm.SetConfig(next)
	if err := cm.tm.Refresh(); err != nil {
		cm.tm.SetConfig(prev)
		if rerr := cm.tm.Refresh(); rerr != nil {
			cm.logger.Error("Failed to restore template configuration", "error", rerr)
		}
		return fmt.Errorf("template configuration rejected: %w", err)
	}
	return nil
}

// IsTrusted reports whether ipAddr is one of the configured trusted proxies.
func (cm *ConfigManager) IsTrusted(ipAddr string) bool {
	addr, err := netip.ParseAddr(ipAddr)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for _, p := range cm.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// parseTrustedProxies turns CIDRs and bare addresses into prefixes, logging
// and skipping anything unparseable.
func parseTrustedProxies(entries []string, logger *slog.Logger) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				logger.Warn("Failed to parse trusted proxy CIDR", "cidr", entry, "error", err)
				continue
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			logger.Warn("Failed to parse trusted proxy IP", "ip", entry, "error", err)
			continue
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes
}
