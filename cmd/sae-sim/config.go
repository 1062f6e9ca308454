package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/backkem/sae/pkg/sae"
	"github.com/backkem/sae/pkg/transport"
	"github.com/pion/logging"
	"github.com/spf13/viper"
)

// stationConfig describes one simulated station.
type stationConfig struct {
	MAC      string `yaml:"mac" mapstructure:"mac"`
	Password string `yaml:"password" mapstructure:"password"`
}

// simConfig is the effective sae-sim configuration.
type simConfig struct {
	Group        uint16        `yaml:"group" mapstructure:"group"`
	AKM          uint8         `yaml:"akm" mapstructure:"akm"`
	StationA     stationConfig `yaml:"station_a" mapstructure:"station_a"`
	StationB     stationConfig `yaml:"station_b" mapstructure:"station_b"`
	InitiateBoth bool          `yaml:"initiate_both" mapstructure:"initiate_both"`

	DropRate      float64       `yaml:"drop_rate" mapstructure:"drop_rate"`
	DuplicateRate float64       `yaml:"duplicate_rate" mapstructure:"duplicate_rate"`
	DelayMax      time.Duration `yaml:"delay_max" mapstructure:"delay_max"`
	Seed          int64         `yaml:"seed" mapstructure:"seed"`

	Retransmit time.Duration `yaml:"retransmit" mapstructure:"retransmit"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`

	LogLevel      string `yaml:"log_level" mapstructure:"log_level"`
	TelemetryAddr string `yaml:"telemetry_addr" mapstructure:"telemetry_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("group", sae.GroupP256)
	v.SetDefault("akm", sae.AKMSuiteTypeSAE)
	v.SetDefault("station_a.mac", "02:00:00:00:00:0a")
	v.SetDefault("station_a.password", "password")
	v.SetDefault("station_b.mac", "02:00:00:00:00:0b")
	v.SetDefault("station_b.password", "password")
	v.SetDefault("initiate_both", false)
	v.SetDefault("drop_rate", 0.0)
	v.SetDefault("duplicate_rate", 0.0)
	v.SetDefault("delay_max", time.Duration(0))
	v.SetDefault("seed", int64(0))
	v.SetDefault("retransmit", 40*time.Millisecond)
	v.SetDefault("timeout", 10*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("telemetry_addr", "")
}

// loadConfig reads defaults, the optional config file, SAE_SIM_* variables
// and bound flags, in increasing precedence.
func loadConfig(v *viper.Viper, file string) (*simConfig, error) {
	setDefaults(v)

	v.SetEnvPrefix("SAE_SIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg simConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// condition returns the medium impairments.
func (c *simConfig) condition() transport.NetworkCondition {
	return transport.NetworkCondition{
		DropRate:      c.DropRate,
		DuplicateRate: c.DuplicateRate,
		DelayMax:      c.DelayMax,
	}
}

func (c *simConfig) akm() sae.AKM {
	return sae.AKM{OUI: sae.AKMSAE.OUI, SuiteType: c.AKM}
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	default:
		return logging.LogLevelDisabled, fmt.Errorf("unknown log level %q", s)
	}
}
