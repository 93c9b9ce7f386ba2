package client

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ProfileEnv overrides the profile path.
	ProfileEnv = "SCRIBE_PROFILE"

	defaultServer  = "http://127.0.0.1:8089"
	defaultTimeout = 10 * time.Second
)

// Profile stores client connection settings.
type Profile struct {
	// Server is the base URL of the web frontend.
	Server  string        `yaml:"server"`
	// Agent is used when a command does not name one.
	Agent   string        `yaml:"agent,omitempty"`
	// Timeout bounds plain HTTP requests. Prompt streams are not bounded.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// DefaultProfile returns the settings used when no profile file exists.
func DefaultProfile() Profile {
	return Profile{
		Server:  defaultServer,
		Timeout: defaultTimeout,
	}
}

// DefaultProfilePath resolves the profile location.
//
// SCRIBE_PROFILE wins; otherwise the file lives under the user config dir.
func DefaultProfilePath() (string, error) {
	if path := strings.TrimSpace(os.Getenv(ProfileEnv)); path != "" {
		return path, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve profile path: %w", err)
	}

	return filepath.Join(dir, "scribe", "profile.yaml"), nil
}

// LoadProfile reads path and fills unset fields with defaults.
// A missing file yields the default profile.
func LoadProfile(path string) (Profile, error) {
	profile := DefaultProfile()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return profile, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("load profile %s: %w", path, err)
	}

	var loaded Profile
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Profile{}, fmt.Errorf("load profile %s: parse yaml: %w", path, err)
	}
	if strings.TrimSpace(loaded.Server) != "" {
		profile.Server = strings.TrimSpace(loaded.Server)
	}
	profile.Agent = strings.TrimSpace(loaded.Agent)
	if loaded.Timeout > 0 {
		profile.Timeout = loaded.Timeout
	}

	if err := profile.Validate(); err != nil {
		return Profile{}, fmt.Errorf("load profile %s: %w", path, err)
	}

	return profile, nil
}

// Save writes the profile as YAML, creating parent directories.
func (p Profile) Save(path string) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("save profile: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("save profile: create dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}

	return nil
}

// Validate checks the server URL and timeout.
func (p Profile) Validate() error {
	parsed, err := url.Parse(strings.TrimSpace(p.Server))
	if err != nil {
		return fmt.Errorf("validate profile: parse server: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("validate profile: server scheme must be http or https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("validate profile: server must include host")
	}
	if p.Timeout < 0 {
		return fmt.Errorf("validate profile: timeout must be >= 0")
	}

	return nil
}
