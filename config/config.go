// Package config holds the settings of a darshcoin node.
//
// Settings come from Default, optionally overridden by a YAML file passed to
// Load and then by command line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Advertise is the host:port announced to other nodes. It defaults to
	// Host:Port.
	Advertise string   `yaml:"advertise"`
	Peers     []string `yaml:"peers"`

	Difficulty int `yaml:"difficulty"`
	Workers    int `yaml:"workers"`

	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`

	// DBPath is the bolt file of the chain snapshot. Empty disables
	// persistence.
	DBPath string `yaml:"db_path"`

	Discovery Discovery `yaml:"discovery"`
	TLS       TLS       `yaml:"tls"`
}

type Discovery struct {
	Enabled  bool          `yaml:"enabled"`
	Port     uint16        `yaml:"port"`
	Interval time.Duration `yaml:"interval"`
}

// TLS enables HTTPS when CertFile and KeyFile are set. CAFile, when set, is
// the pool used to verify peers.
type TLS struct {
	CertFile string `yaml:"cert"`
	KeyFile  string `yaml:"key"`
	CAFile   string `yaml:"ca"`
}

func Default() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              5003,
		Difficulty:        4,
		Workers:           1,
		FetchTimeout:      5 * time.Second,
		ReconcileInterval: 0,
		Discovery: Discovery{
			Enabled:  false,
			Port:     53552,
			Interval: 5 * time.Second,
		},
	}
}

// Load reads the YAML file at path on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Address is the host:port the node listens on.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AdvertisedAddress is the address announced to other nodes.
func (c Config) AdvertisedAddress() string {
	if c.Advertise != "" {
		return c.Advertise
	}
	return c.Address()
}

// TLSEnabled reports whether the node serves HTTPS.
func (c Config) TLSEnabled() bool {
	return c.TLS.CertFile != "" && c.TLS.KeyFile != ""
}

func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Advertise != "" {
		if _, _, err := net.SplitHostPort(c.Advertise); err != nil {
			errs = append(errs, fmt.Errorf("advertise: %w", err))
		}
	}
	if c.Difficulty < 0 || c.Difficulty > 64 {
		errs = append(errs, fmt.Errorf("difficulty %d out of range [0, 64]", c.Difficulty))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("fetch timeout must be positive, got %s", c.FetchTimeout))
	}
	if c.ReconcileInterval < 0 {
		errs = append(errs, fmt.Errorf("reconcile interval must not be negative, got %s", c.ReconcileInterval))
	}
	if c.Discovery.Enabled && c.Discovery.Interval <= 0 {
		errs = append(errs, fmt.Errorf("discovery interval must be positive, got %s", c.Discovery.Interval))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls cert and key must be set together"))
	}
	return errors.Join(errs...)
}
