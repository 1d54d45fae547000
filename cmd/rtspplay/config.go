package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rivergate/rtspcore/retry"
	"github.com/rivergate/rtspcore/session"
)

// fileConfig is the on-disk shape read from -config; every field is
// optional and falls back to session.DefaultConfig()/flag values when
// absent.
type fileConfig struct {
	Location string `yaml:"location"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	Protocols   []string `yaml:"protocols"`
	TCPTimeout  string   `yaml:"tcp_timeout"`
	DoRTCP      *bool    `yaml:"do_rtcp"`
	DoKeepAlive *bool    `yaml:"do_keepalive"`

	Retry struct {
		Strategy    string `yaml:"strategy"`
		Racing      string `yaml:"racing"`
		ProfileDir  string `yaml:"profile_dir"`
		MaxAttempts *int   `yaml:"max_reconnection_attempts"`
	} `yaml:"retry"`

	LogLevel string `yaml:"log_level"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parsing config file: %w", err)
	}
	return fc, nil
}

func parseProtocol(name string) (session.TransportKind, error) {
	switch name {
	case "udp":
		return session.TransportUDP, nil
	case "udp-multicast", "multicast":
		return session.TransportUDPMulticast, nil
	case "tcp":
		return session.TransportTCP, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q", name)
	}
}

func parseStrategy(name string) (retry.Strategy, error) {
	switch name {
	case "", "auto":
		return retry.Auto, nil
	case "adaptive":
		return retry.Adaptive, nil
	case "immediate":
		return retry.Immediate, nil
	case "linear":
		return retry.Linear, nil
	case "exponential":
		return retry.Exponential, nil
	case "exponential-jitter":
		return retry.ExponentialJitter, nil
	default:
		return 0, fmt.Errorf("unknown retry strategy %q", name)
	}
}

func parseRacing(name string) (retry.RacingStrategy, error) {
	switch name {
	case "", "none":
		return retry.RaceNone, nil
	case "first-wins":
		return retry.FirstWins, nil
	case "last-wins":
		return retry.LastWins, nil
	default:
		return 0, fmt.Errorf("unknown racing strategy %q", name)
	}
}

// buildSessionConfig merges fc over session.DefaultConfig(), then applies
// any non-zero flag overrides on top.
func buildSessionConfig(fc fileConfig, flags cliFlags) (session.Config, error) {
	cfg := session.DefaultConfig()

	if fc.Location != "" {
		cfg.Location = fc.Location
	}
	if flags.location != "" {
		cfg.Location = flags.location
	}

	cfg.UserID = fc.User
	cfg.UserPW = fc.Password
	if flags.user != "" {
		cfg.UserID = flags.user
	}
	if flags.password != "" {
		cfg.UserPW = flags.password
	}

	if len(fc.Protocols) > 0 {
		var kinds []session.TransportKind
		for _, p := range fc.Protocols {
			k, err := parseProtocol(p)
			if err != nil {
				return cfg, err
			}
			kinds = append(kinds, k)
		}
		cfg.Protocols = kinds
	}

	if fc.TCPTimeout != "" {
		d, err := time.ParseDuration(fc.TCPTimeout)
		if err != nil {
			return cfg, fmt.Errorf("tcp_timeout: %w", err)
		}
		cfg.TCPTimeout = d
	}

	if fc.DoRTCP != nil {
		cfg.DoRTCP = *fc.DoRTCP
	}
	if fc.DoKeepAlive != nil {
		cfg.DoKeepAlive = *fc.DoKeepAlive
	}

	strategy, err := parseStrategy(fc.Retry.Strategy)
	if err != nil {
		return cfg, err
	}
	cfg.Retry.Strategy = strategy

	racing, err := parseRacing(fc.Retry.Racing)
	if err != nil {
		return cfg, err
	}
	cfg.Retry.Racing = racing

	cfg.ProfileDir = fc.Retry.ProfileDir
	if fc.Retry.MaxAttempts != nil {
		cfg.MaxReconnectionAttempts = *fc.Retry.MaxAttempts
	}

	return cfg, nil
}
