package config

// Package config provides a reusable loader for mixer configuration files
// and environment variables. Unknown keys in a config file are rejected so a
// typo cannot silently disable an option.

import (
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	yaml "gopkg.in/yaml.v3"

	"solmix/core"
	"solmix/pkg/utils"
)

// Config is the process-level configuration: where the mixer talks, how it
// stores the pool, and the per-run mix defaults.
type Config struct {
	RPC struct {
		Endpoint string         `mapstructure:"endpoint" yaml:"endpoint"`
		Limits   core.RpcLimits `mapstructure:"limits" yaml:"limits"`
	} `mapstructure:"rpc" yaml:"rpc"`

	Database struct {
		URL string `mapstructure:"url" yaml:"url"`
	} `mapstructure:"database" yaml:"database"`

	Vault struct {
		// Secret is normally left empty here and supplied through
		// MIXER_ENCRYPTION_SECRET.
		Secret string `mapstructure:"secret" yaml:"secret"`
	} `mapstructure:"vault" yaml:"vault"`

	Pool struct {
		TargetSize int `mapstructure:"target_size" yaml:"target_size"`
		GrowthStep int `mapstructure:"growth_step" yaml:"growth_step"`
	} `mapstructure:"pool" yaml:"pool"`

	Mix core.MixConfig `mapstructure:"mix" yaml:"mix"`

	Logging struct {
		Level string `mapstructure:"level" yaml:"level"`
	} `mapstructure:"logging" yaml:"logging"`

	Server struct {
		Listen string `mapstructure:"listen" yaml:"listen"`
	} `mapstructure:"server" yaml:"server"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.RPC.Limits = core.DefaultRpcLimits()
	cfg.Pool.TargetSize = 32
	cfg.Pool.GrowthStep = 16
	cfg.Mix = *core.DefaultMixConfig()
	cfg.Logging.Level = "info"
	cfg.Server.Listen = ":8545"
	return cfg
}

// Load reads the YAML file at path (optional), then applies environment
// overrides: RPC_ENDPOINT, MIXER_ENCRYPTION_SECRET and DATABASE_URL.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, utils.Wrap(err, "load config")
		}
		decode := func(dc *mapstructure.DecoderConfig) {
			dc.ErrorUnused = true
			dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			)
		}
		if err := v.Unmarshal(cfg, decode); err != nil {
			return nil, utils.Wrap(core.ErrUnknownConfigKey, err.Error())
		}
	}

	cfg.RPC.Endpoint = utils.EnvOrDefault("RPC_ENDPOINT", cfg.RPC.Endpoint)
	cfg.Vault.Secret = utils.EnvOrDefault("MIXER_ENCRYPTION_SECRET", cfg.Vault.Secret)
	cfg.Database.URL = utils.EnvOrDefault("DATABASE_URL", cfg.Database.URL)
	return cfg, nil
}

// DefaultYAML renders the built-in configuration as a YAML template for
// `solmix config init`.
func DefaultYAML() ([]byte, error) {
	return yaml.Marshal(Default())
}
