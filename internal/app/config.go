package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ParamsFile string   // hcl parameter file
	Overrides  []string // key=value pairs layered over the file

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	Workers         int
	CPUs            int
	WorkDir         string
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.ParamsFile == "" {
		return nil, errors.New("ParamsFile is a required configuration field and cannot be empty")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &cfg, nil
}
