package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ntsmith7/peekaboo/internal/utils"
)

type DatabaseConfig struct {
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
}

// LoadDatabaseConfig loads database config from environment variables with
// sensible defaults. Supported env vars: DB_HOST, DB_PORT, DB_USER,
// DB_PASSWORD, DB_NAME
func LoadDatabaseConfig() *DatabaseConfig {
	host := getenvDefault("DB_HOST", "localhost")
	portStr := getenvDefault("DB_PORT", "5432")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 5432
	}
	user := getenvDefault("DB_USER", "peekaboo")
	pass := getenvDefault("DB_PASSWORD", "peekaboo")
	name := getenvDefault("DB_NAME", "peekaboo")

	return &DatabaseConfig{
		DBHost:     host,
		DBPort:     port,
		DBUser:     user,
		DBPassword: pass,
		DBName:     name,
	}
}

// DSN renders the postgres connection string for gorm.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// AppConfig holds the scan tunables, loaded from config/peekaboo.yaml with
// PEEKABOO_* environment overrides. Every field has a working default; the
// file is optional.
type AppConfig struct {
	Server    ServerConfig    `mapstructure:"server"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Crawld    CrawldConfig    `mapstructure:"crawld"`
	Discord   DiscordConfig   `mapstructure:"discord"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

type ArtifactsConfig struct {
	Dir string `mapstructure:"dir"`
}

type ScanConfig struct {
	OverallTimeout       time.Duration    `mapstructure:"overall_timeout"`
	DiscoveryTimeout     time.Duration    `mapstructure:"discovery_timeout"`
	CrawlTimeout         time.Duration    `mapstructure:"crawl_timeout"`
	ProbeTimeout         time.Duration    `mapstructure:"probe_timeout"`
	CrawlTargetTimeout   time.Duration    `mapstructure:"crawl_target_timeout"`
	VulnResourceTimeout  time.Duration    `mapstructure:"vuln_resource_timeout"`
	DiscoveryConcurrency int              `mapstructure:"discovery_concurrency"`
	CrawlConcurrency     int              `mapstructure:"crawl_concurrency"`
	VulnConcurrency      int              `mapstructure:"vuln_concurrency"`
	MaxConcurrentScans   int              `mapstructure:"max_concurrent_scans"`
	Bruteforce           BruteforceConfig `mapstructure:"bruteforce"`
}

type BruteforceConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Wordlist is a file path; empty means the built-in list.
	Wordlist string `mapstructure:"wordlist"`
}

type ProbeConfig struct {
	Resolvers []string `mapstructure:"resolvers"`
}

type CrawldConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	Concurrency   int           `mapstructure:"concurrency"`
	TargetTimeout time.Duration `mapstructure:"target_timeout"`
	MaxFailures   int           `mapstructure:"max_failures"`
}

type DiscordConfig struct {
	Token     string `mapstructure:"token"`
	ChannelID string `mapstructure:"channel_id"`
}

// Load reads the app config. A missing file falls back to defaults and
// PEEKABOO_* environment variables.
func Load() (*AppConfig, error) {
	v, err := utils.NewViperConfig("peekaboo", defaults())
	if err != nil {
		return nil, err
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse app config: %w", err)
	}
	return &cfg, nil
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.listen":              ":8080",
		"artifacts.dir":              "./scans",
		"scan.overall_timeout":       time.Hour,
		"scan.discovery_timeout":     15 * time.Minute,
		"scan.crawl_timeout":         30 * time.Minute,
		"scan.probe_timeout":         30 * time.Second,
		"scan.crawl_target_timeout":  2 * time.Minute,
		"scan.vuln_resource_timeout": 2 * time.Minute,
		"scan.discovery_concurrency": 5,
		"scan.crawl_concurrency":     5,
		"scan.vuln_concurrency":      5,
		"scan.max_concurrent_scans":  3,
		"scan.bruteforce.enabled":    false,
		"scan.bruteforce.wordlist":   "",
		"probe.resolvers":            []string{"8.8.8.8:53", "1.1.1.1:53"},
		"crawld.poll_interval":       5 * time.Minute,
		"crawld.batch_size":          50,
		"crawld.concurrency":         5,
		"crawld.target_timeout":      2 * time.Minute,
		"crawld.max_failures":        5,
		"discord.token":              os.Getenv("DISCORD_TOKEN"),
		"discord.channel_id":         os.Getenv("DISCORD_CHANNEL_ID"),
	}
}
