package checker

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/ckanwatch/checker/internal/catalog"
	"github.com/hazyhaar/ckanwatch/checker/internal/diff"
	"github.com/hazyhaar/ckanwatch/checker/internal/probe"
	"github.com/hazyhaar/ckanwatch/checker/internal/scheduler"
	"github.com/hazyhaar/ckanwatch/notify"
)

// Config is the top-level ckanwatch configuration.
type Config struct {
	Catalog  CatalogConfig    `yaml:"catalog"`
	Probe    ProbeConfig      `yaml:"probe"`
	Schedule scheduler.Config `yaml:"schedule"`
	Store    StoreConfig      `yaml:"store"`
	Notify   NotifyConfig     `yaml:"notify"`
	Report   ReportConfig     `yaml:"report"`
	HTTP     HTTPConfig       `yaml:"http"`
	Dump     DumpConfig       `yaml:"dump"`
	LogLevel string           `yaml:"log_level"`
}

// CatalogConfig configures the listing client and event URLs.
type CatalogConfig struct {
	catalog.ClientConfig `yaml:",inline"`
	// DatasetURLBase prefixes a dataset slug in announcements.
	DatasetURLBase string `yaml:"dataset_url_base"`
}

// ProbeConfig configures size probing.
type ProbeConfig struct {
	probe.Config     `yaml:",inline"`
	probe.PoolConfig `yaml:",inline"`
}

// StoreConfig locates the database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// NotifyConfig selects delivery channels. Each configured channel receives
// every message.
type NotifyConfig struct {
	Telegram notify.TelegramConfig `yaml:"telegram"`
	Webhooks []string              `yaml:"webhooks"`
	Stdout   bool                  `yaml:"stdout"`
}

// ReportConfig lists the operator chats that receive run summaries.
type ReportConfig struct {
	ChatIDs []int64 `yaml:"chat_ids"`
}

// HTTPConfig configures the status/admin API.
type HTTPConfig struct {
	// Addr is the listen address; empty disables the HTTP server.
	Addr string `yaml:"addr"`
	// AdminUser and AdminPasswordHash (bcrypt) protect /api/*. With no hash
	// set the API is served without authentication.
	AdminUser         string `yaml:"admin_user"`
	AdminPasswordHash string `yaml:"admin_password_hash"`
}

// DumpConfig configures the catalog dumps written after each run.
type DumpConfig struct {
	Dir string `yaml:"dir"`
}

func (c *Config) defaults() {
	if c.Catalog.DatasetURLBase == "" {
		c.Catalog.DatasetURLBase = diff.DefaultDatasetURLBase
	}
	if c.Schedule.Interval <= 0 {
		c.Schedule.Interval = time.Hour
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/ckanwatch.db"
	}
	if c.HTTP.AdminUser == "" {
		c.HTTP.AdminUser = "admin"
	}
	if c.Dump.Dir == "" {
		c.Dump.Dir = "data/assets"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// DefaultConfig returns a configuration with every default applied. Probe
// settings where zero is meaningful (max_retries, pacing) are seeded here so
// that a file only overrides what it names.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Probe.Config = probe.DefaultConfig()
	cfg.Probe.PoolConfig = probe.DefaultPoolConfig()
	cfg.defaults()
	return cfg
}

// LoadConfigFile reads a YAML configuration file, applies environment
// overrides and defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checker: read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("checker: parse config %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.defaults()
	return cfg, nil
}

// ApplyEnv overrides secrets and deployment paths from the environment:
// CKANWATCH_TELEGRAM_TOKEN, CKANWATCH_ADMIN_PASSWORD_HASH, CKANWATCH_DB and
// CKANWATCH_REPORT_CHAT_IDS (comma separated).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("CKANWATCH_TELEGRAM_TOKEN"); ok && v != "" {
		c.Notify.Telegram.Token = v
	}
	if v, ok := lookup("CKANWATCH_ADMIN_PASSWORD_HASH"); ok && v != "" {
		c.HTTP.AdminPasswordHash = v
	}
	if v, ok := lookup("CKANWATCH_DB"); ok && v != "" {
		c.Store.Path = v
	}
	if v, ok := lookup("CKANWATCH_REPORT_CHAT_IDS"); ok && v != "" {
		ids, err := parseChatIDs(v)
		if err != nil {
			return fmt.Errorf("checker: CKANWATCH_REPORT_CHAT_IDS: %w", err)
		}
		c.Report.ChatIDs = ids
	}
	return nil
}

func parseChatIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
