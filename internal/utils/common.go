package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// ConfigOptions holds configuration loading options
type ConfigOptions struct {
	ConfigPath  string
	ConfigName  string
	ConfigType  string
	EnvPrefix   string
	Optional    bool
	DefaultsMap map[string]interface{}
}

// NewViperConfig creates a Viper configuration with the standard search
// paths and the PEEKABOO env prefix. A missing file is not an error; the
// defaults and environment still apply.
func NewViperConfig(name string, defaults map[string]interface{}) (*viper.Viper, error) {
	return NewViperConfigWithOptions(ConfigOptions{
		ConfigPath:  "./config",
		ConfigName:  name,
		ConfigType:  "yaml",
		EnvPrefix:   "PEEKABOO",
		Optional:    true,
		DefaultsMap: defaults,
	})
}

// NewViperConfigWithOptions creates a Viper configuration with custom options
func NewViperConfigWithOptions(opts ConfigOptions) (*viper.Viper, error) {
	v := viper.New()

	// Set configuration type and search paths
	v.SetConfigType(opts.ConfigType)

	// Add multiple search paths for flexibility
	configPaths := []string{opts.ConfigPath}
	if opts.ConfigPath != "./config" {
		configPaths = append(configPaths, "./config")
	}
	configPaths = append(configPaths, "/etc/peekaboo", "$HOME/.peekaboo")

	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	v.SetConfigName(opts.ConfigName)

	// Enable environment variable support
	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
		v.AutomaticEnv()
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	}

	// Set defaults if provided
	for key, value := range opts.DefaultsMap {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if opts.Optional {
				log.Debugf("No config file '%s' in paths %v, using defaults", opts.ConfigName, configPaths)
				return v, nil
			}
			return nil, fmt.Errorf("config file '%s' not found in paths: %v", opts.ConfigName, configPaths)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	log.Infof("Loaded config file: %s", v.ConfigFileUsed())
	return v, nil
}

// NormalizeDomain canonicalizes a target name: lowercase, scheme and path
// stripped, no trailing slash or dot. Applied at every entry point so the
// seen-set and the unique index agree on what a name is.
func NormalizeDomain(raw string) string {
	name := strings.TrimSpace(strings.ToLower(raw))

	for _, scheme := range []string{"https://", "http://"} {
		name = strings.TrimPrefix(name, scheme)
	}

	// Drop path, query, fragment
	if idx := strings.IndexAny(name, "/?#"); idx != -1 {
		name = name[:idx]
	}

	// Drop an explicit port
	if idx := strings.LastIndex(name, ":"); idx != -1 && !strings.Contains(name, "]") {
		name = name[:idx]
	}

	// DNS answers come back fully qualified
	name = strings.TrimSuffix(name, ".")

	return name
}

// ScanDirectoryOptions holds options for creating scan artifact directories
type ScanDirectoryOptions struct {
	BaseDir     string
	ScanID      string
	DomainName  string
	Timestamp   time.Time
	Permissions os.FileMode
}

// CreateScanDirectory creates a timestamped artifact directory for one scan
// and returns its absolute path. The working directory is never changed;
// callers keep absolute paths.
func CreateScanDirectory(baseDir, scanID, domainName string) (string, error) {
	return CreateScanDirectoryWithOptions(ScanDirectoryOptions{
		BaseDir:     baseDir,
		ScanID:      scanID,
		DomainName:  domainName,
		Timestamp:   time.Now().UTC(),
		Permissions: 0755,
	})
}

// CreateScanDirectoryWithOptions creates a scan directory with custom options
func CreateScanDirectoryWithOptions(opts ScanDirectoryOptions) (string, error) {
	// Sanitize domain name for filesystem
	safeDomainName := sanitizeForFilesystem(opts.DomainName)

	shortID := opts.ScanID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}

	dirName := fmt.Sprintf("%s_%s_%s",
		safeDomainName,
		shortID,
		opts.Timestamp.Format("2006-01-02_15-04-05"))

	dir := filepath.Join(opts.BaseDir, dirName)

	if err := os.MkdirAll(dir, opts.Permissions); err != nil {
		log.Errorf("Error creating scan directory: %v", err)
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		log.Errorf("Error getting absolute path: %v", err)
		return dir, fmt.Errorf("failed to get absolute path for %s: %w", dir, err)
	}

	log.Infof("Created scan directory: %s", absDir)
	return absDir, nil
}

// sanitizeForFilesystem removes or replaces characters that are invalid in filenames
func sanitizeForFilesystem(input string) string {
	// Replace invalid characters with underscores
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)

	sanitized := replacer.Replace(input)

	// Remove any remaining problematic characters
	sanitized = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 { // Control characters
			return -1 // Remove character
		}
		return r
	}, sanitized)

	// Ensure it's not empty and not too long
	if sanitized == "" {
		sanitized = "unknown"
	}

	// Limit length to avoid filesystem issues
	if len(sanitized) > 100 {
		sanitized = sanitized[:100]
	}

	return sanitized
}

// GetConfigPath returns the path where config files are expected to be found
func GetConfigPath() string {
	if path := os.Getenv("PEEKABOO_CONFIG_PATH"); path != "" {
		return path
	}
	return "./config"
}

// EnsureDirectoryExists creates a directory if it doesn't exist
func EnsureDirectoryExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0755)
	}
	return nil
}
