// Package config loads application configuration from a YAML file with
// environment-variable expansion and sensible single-host defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config contains application configuration.
type Config struct {
	// Control plane connection URI.
	LibvirtURI string `yaml:"libvirt_uri"`

	// Volume and bootstrap payload locations.
	ImageRoot    string `yaml:"image_root"`
	BaseImage    string `yaml:"base_image"`
	BaseImageURL string `yaml:"base_image_url"`

	// Guest login settings.
	LoginUser      string `yaml:"login_user"`
	PasswordLength int    `yaml:"password_length"`

	// Shell readiness probe.
	SSHPort              int `yaml:"ssh_port"`
	ProbeIntervalSeconds int `yaml:"probe_interval_seconds"`
	ProbeTimeoutSeconds  int `yaml:"probe_timeout_seconds"`

	// Record persistence: etcd when endpoints are set, local file otherwise.
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
	StateFile     string   `yaml:"state_file"`

	// Fleet provisioning.
	MaxWorkers int `yaml:"max_workers"`
}

// ProbeInterval returns the probe interval as a duration.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}

// ProbeTimeout returns the probe timeout as a duration.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// Load loads configuration from the YAML file at CONFIG_PATH (default
// vmforge.yaml). A missing file is not an error; defaults apply.
func Load() (*Config, error) {
	config := &Config{
		LibvirtURI:           "qemu:///system",
		ImageRoot:            "/var/lib/vmforge/images",
		LoginUser:            "forge",
		SSHPort:              22,
		ProbeIntervalSeconds: 2,
		ProbeTimeoutSeconds:  60,
		StateFile:            "vmforge-state.json",
		MaxWorkers:           4,
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "vmforge.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Expand environment variables in string fields.
	config.LibvirtURI = os.ExpandEnv(config.LibvirtURI)
	config.ImageRoot = os.ExpandEnv(config.ImageRoot)
	config.BaseImage = os.ExpandEnv(config.BaseImage)
	config.BaseImageURL = os.ExpandEnv(config.BaseImageURL)
	config.StateFile = os.ExpandEnv(config.StateFile)

	if config.BaseImage == "" {
		config.BaseImage = config.ImageRoot + "/base.qcow2"
	}

	if config.ImageRoot == "" {
		return nil, fmt.Errorf("image_root must not be empty")
	}
	if config.LoginUser == "" {
		return nil, fmt.Errorf("login_user must not be empty")
	}
	if config.ProbeIntervalSeconds <= 0 || config.ProbeTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("probe interval and timeout must be positive")
	}

	return config, nil
}
