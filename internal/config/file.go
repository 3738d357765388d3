package config

import (
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional on-disk config file shape. Dir, DatasetID,
// SpaceRepoName, SpaceAuthorName, PlotOrder and ColorPalette mirror an
// environment variable in this package's constants; a value set here is
// used only when the corresponding environment variable is unset, so
// EnvDir/EnvDatasetID/etc. always take precedence for compatibility with
// existing deployments. LogLevel and LogFormat are parsed but not read:
// internal/log takes its level and format from the environment only.
// OAuth has no environment equivalent.
type FileConfig struct {
	Dir             string `yaml:"dir,omitempty"`
	DatasetID       string `yaml:"dataset_id,omitempty"`
	SpaceRepoName   string `yaml:"space_repo_name,omitempty"`
	SpaceAuthorName string `yaml:"space_author_name,omitempty"`
	PlotOrder       string `yaml:"plot_order,omitempty"`
	ColorPalette    string `yaml:"color_palette,omitempty"`
	LogLevel        string `yaml:"log_level,omitempty"`
	LogFormat       string `yaml:"log_format,omitempty"`

	// OAuth, when set, lets the remote-credential resolver (internal/secrets)
	// refresh HF_TOKEN-equivalent credentials via a client-credentials grant
	// instead of requiring a long-lived static token in the environment.
	OAuth *OAuthFileConfig `yaml:"oauth,omitempty"`
}

// OAuthFileConfig configures the optional OAuth2 client-credentials token
// source used by internal/secrets.Resolver.
type OAuthFileConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
}

// ConfigDir returns the XDG config directory for trackhive: ~/.config/trackhive,
// respecting XDG_CONFIG_HOME.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		// Linux, macOS, and everything else follow the XDG layout here;
		// only Windows gets a different default root.
		if runtime.GOOS == "windows" {
			base = os.Getenv("APPDATA")
			if base == "" {
				base = filepath.Join(home, "AppData", "Roaming")
			}
		} else {
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, "trackhive"), nil
}

// ConfigFilePath returns the path to the optional trackhive.yaml file,
// honoring TRACKHIVE_CONFIG as an override.
func ConfigFilePath() (string, error) {
	if v := os.Getenv("TRACKHIVE_CONFIG"); v != "" {
		return v, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "trackhive.yaml"), nil
}

// loadFileConfig reads the optional config file, returning a zero-value
// FileConfig (not an error) if it does not exist.
func loadFileConfig() (FileConfig, error) {
	var fc FileConfig

	path, err := ConfigFilePath()
	if err != nil {
		return fc, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fc, nil
		}
		return fc, err
	}

	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}
