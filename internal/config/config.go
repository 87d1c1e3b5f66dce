package config

import (
	"fmt"

	"go-eodms-download/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// LoadConfig reads the configuration from the specified path (defaulting to
// "config.toml"), populates a models.Config and fills in defaults for the
// tunables that may be omitted.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = "config.toml" // Default path
	}
	var cfg models.Config
	_, err := toml.DecodeFile(configFilePath, &cfg)
	if err != nil {
		return models.Config{}, fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}

	if cfg.Username == "" {
		log.Warn("Warning: Username is not set in config.toml, anonymous access only")
	}
	if cfg.DownloadPath == "" {
		log.Warn("Warning: DownloadPath is not set in config.toml, defaulting to ./downloads")
		cfg.DownloadPath = "downloads"
	}
	if cfg.ResultsPath == "" {
		cfg.ResultsPath = "results"
	}
	if cfg.DatabasePath == "" {
		log.Warn("Warning: DatabasePath is not set in config.toml, defaulting to ./eodms.db")
		cfg.DatabasePath = "eodms.db"
	}
	if cfg.BleveIndexPath == "" {
		cfg.BleveIndexPath = "eodms.bleve"
	}
	if cfg.AttemptLimit <= 0 {
		cfg.AttemptLimit = 4
	}
	if cfg.ApiClientTimeoutSec <= 0 {
		cfg.ApiClientTimeoutSec = 120
	}
	if cfg.MaxOrdersFetch <= 0 {
		cfg.MaxOrdersFetch = 10000
	}
	if cfg.DownloadAttempts < 0 {
		log.Warn("Warning: DownloadAttempts is not a valid count, polling without an attempt cap")
		cfg.DownloadAttempts = 0
	}

	log.Infof("Configuration loaded from %s", configFilePath)
	return cfg, nil
}
