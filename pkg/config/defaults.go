package config

import "github.com/marmos91/par3/internal/bytesize"

// DefaultConfig returns a Config populated entirely with defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in zero-valued fields of cfg with defaults. Called
// after unmarshaling a partial config file so unset fields still behave
// sensibly.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Mapper.BlockSize == 0 {
		cfg.Mapper.BlockSize = bytesize.ByteSize(4 << 20) // 4 MiB
	}
	if cfg.Mapper.Strategy == "" {
		cfg.Mapper.Strategy = "slide-search"
	}

	if cfg.Recovery.BlockCount == 0 {
		cfg.Recovery.BlockCount = 16
	}

	if cfg.Container.Scheme == "" {
		cfg.Container.Scheme = "power-of-two"
	}
	if cfg.Container.CriticalPacketRepeatLimit == 0 {
		cfg.Container.CriticalPacketRepeatLimit = 32
	}

	if cfg.Search.LimitMillis == 0 {
		cfg.Search.LimitMillis = 100
	}

	if cfg.Memory.Limit == 0 {
		cfg.Memory.Limit = bytesize.ByteSize(256 << 20) // 256 MiB
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}
