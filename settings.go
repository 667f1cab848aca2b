package gositemapindexnow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// SettingsFile is the settings document inside the storage directory.
	SettingsFile = "settings.yaml"
	// LegacySettingsFile is read when SettingsFile does not exist.
	LegacySettingsFile = "Settings.json"
	envFile            = ".env"

	placeholderSitemapURL = "https://example.com/sitemap.xml"
	placeholderHost       = "example.com"
	placeholderKey        = "IndexNowKEY"
)

// Settings identifies the site and its IndexNow key.
type Settings struct {
	SitemapURL string `yaml:"sitemap_url" json:"sitemap_url"`
	Host       string `yaml:"host" json:"host"`
	Key        string `yaml:"key" json:"key"`
	Endpoint   string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// DefaultSettings returns the placeholder settings written on first use.
func DefaultSettings() Settings {
	return Settings{
		SitemapURL: placeholderSitemapURL,
		Host:       placeholderHost,
		Key:        placeholderKey,
	}
}

// EndpointOrDefault returns the configured endpoint or DefaultEndpoint.
func (s Settings) EndpointOrDefault() string {
	if s.Endpoint == "" {
		return DefaultEndpoint
	}
	return s.Endpoint
}

// IsPlaceholder reports whether any field still holds its placeholder value.
func (s Settings) IsPlaceholder() bool {
	return s.SitemapURL == placeholderSitemapURL || s.Host == placeholderHost || s.Key == placeholderKey
}

// Validate checks that every required field is set.
func (s Settings) Validate() error {
	var missing []string
	if strings.TrimSpace(s.SitemapURL) == "" {
		missing = append(missing, "sitemap_url")
	}
	if strings.TrimSpace(s.Host) == "" {
		missing = append(missing, "host")
	}
	if strings.TrimSpace(s.Key) == "" {
		missing = append(missing, "key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("settings missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// LoadSettings reads the settings document from dir. When it does not exist a
// default document is written and usedDefaults is true. When it cannot be read
// or decoded, the defaults are returned together with the error so the caller
// can decide whether to continue. Values from dir/.env and then from the
// INDEXNOW_* environment variables override the document.
func LoadSettings(dir string) (settings Settings, usedDefaults bool, err error) {
	path, exists := settingsPath(dir)
	if !exists {
		settings = DefaultSettings()
		usedDefaults = true
		if err := WriteSettings(dir, settings); err != nil {
			return applyEnvOverrides(dir, settings), true, err
		}
		return applyEnvOverrides(dir, settings), true, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return applyEnvOverrides(dir, DefaultSettings()), true, &ErrStorage{Op: "read settings", Path: path, Err: err}
	}

	defaults := DefaultSettings()
	settings = defaults
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return applyEnvOverrides(dir, defaults), true, fmt.Errorf("decode settings %s: %w", path, err)
	}
	// Fields missing from the document keep their defaults.
	if settings.SitemapURL == "" {
		settings.SitemapURL = defaults.SitemapURL
	}
	if settings.Host == "" {
		settings.Host = defaults.Host
	}
	if settings.Key == "" {
		settings.Key = defaults.Key
	}
	return applyEnvOverrides(dir, settings), false, nil
}

// WriteSettings stores settings as dir/settings.yaml.
func WriteSettings(dir string, settings Settings) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ErrStorage{Op: "create settings dir", Path: dir, Write: true, Err: err}
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	path := filepath.Join(dir, SettingsFile)
	if err := writeFileAtomic(path, data); err != nil {
		return &ErrStorage{Op: "write settings", Path: path, Write: true, Err: err}
	}
	return nil
}

func settingsPath(dir string) (string, bool) {
	for _, name := range []string{SettingsFile, LegacySettingsFile} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return filepath.Join(dir, SettingsFile), false
}

var settingsEnv = []struct {
	name string
	set  func(*Settings, string)
}{
	{"INDEXNOW_SITEMAP_URL", func(s *Settings, v string) { s.SitemapURL = v }},
	{"INDEXNOW_HOST", func(s *Settings, v string) { s.Host = v }},
	{"INDEXNOW_KEY", func(s *Settings, v string) { s.Key = v }},
	{"INDEXNOW_ENDPOINT", func(s *Settings, v string) { s.Endpoint = v }},
}

// applyEnvOverrides reads dir/.env without touching the process environment;
// process variables take precedence over the file. A missing or unreadable
// .env contributes nothing.
func applyEnvOverrides(dir string, settings Settings) Settings {
	fileEnv, err := godotenv.Read(filepath.Join(dir, envFile))
	if err != nil {
		fileEnv = nil
	}
	for _, entry := range settingsEnv {
		if v, ok := os.LookupEnv(entry.name); ok && strings.TrimSpace(v) != "" {
			entry.set(&settings, strings.TrimSpace(v))
			continue
		}
		if v := strings.TrimSpace(fileEnv[entry.name]); v != "" {
			entry.set(&settings, v)
		}
	}
	return settings
}
