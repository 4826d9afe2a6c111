package main

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.yaml.in/yaml/v3"
)

// Config is the optional YAML configuration file. Flags given on the
// command line take precedence over anything set here.
type Config struct {
	ProbeConfiguration ProbeConfiguration `yaml:"probe_config"`
	HostResolver       *AddrPort          `yaml:"host_resolver"`
}

type ProbeConfiguration struct {
	Type        string         `yaml:"type"`
	Timeout     time.Duration  `yaml:"timeout"`
	Delay       *time.Duration `yaml:"delay"`
	Exclusive   bool           `yaml:"exclusive"`
	Privileged  bool           `yaml:"privileged"`
	PayloadSize int            `yaml:"payload_size"`
	HTTP        HTTPProbe      `yaml:"http"`
}

type HTTPProbe struct {
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
}

type AddrPort struct {
	netip.AddrPort
}

func (a *AddrPort) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	addrPort, err := netip.ParseAddrPort(s)
	if err != nil {
		return fmt.Errorf("Could not parse address port: %s", s)
	}
	*a = AddrPort{addrPort}
	return nil
}

func loadConfig(path string) (Config, error) {
	config := Config{}

	configFile, err := os.ReadFile(path)
	if err != nil {
		return config, errors.Wrapf(err, "Couldn't open configuration file")
	}

	if err := yaml.Unmarshal(configFile, &config); err != nil {
		return config, errors.Wrapf(err, "Couldn't parse configuration file")
	}

	if config.ProbeConfiguration.Timeout < 0 {
		return config, errors.Errorf("Timeout must be >0; got: %s", config.ProbeConfiguration.Timeout)
	}
	if config.ProbeConfiguration.Delay != nil && *config.ProbeConfiguration.Delay < 0 {
		return config, errors.Errorf("Delay must be >=0; got: %s", *config.ProbeConfiguration.Delay)
	}
	if config.ProbeConfiguration.PayloadSize < 0 {
		return config, errors.Errorf("Payload size must be >=0; got: %d", config.ProbeConfiguration.PayloadSize)
	}

	return config, nil
}
