package internal

import (
	"fmt"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
	"github.com/offtube/offtube/internal/api"
	"github.com/offtube/offtube/internal/database"
	"github.com/offtube/offtube/internal/download"
	"github.com/offtube/offtube/internal/ingest"
	"github.com/offtube/offtube/internal/youtube"
)

const offtubeUserDirSuffix = "offtube"

// OfftubeConfig is the top-level user configuration, supplied via a YAML
// file and/or environment variables.
type OfftubeConfig struct {
	Database      database.DatabaseConfig `yaml:"database"`
	RestConfig    api.RestConfig          `yaml:"api"`
	IngestService ingest.Config           `yaml:"ingest"`
	YouTube       youtube.Config          `yaml:"youtube"`
	Download      download.Config         `yaml:"download"`
	DataDirPath   string                  `yaml:"data_dir" env:"DATA_DIR"`
	FFmpegPath    string                  `yaml:"ffmpeg_path" env:"FFMPEG_PATH"`
}

// LoadFromFile populates the config from the YAML file at the given path,
// with environment variables taking precedence over file values.
func (config *OfftubeConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	return nil
}

// LoadFromEnv populates the config purely from environment variables and
// struct defaults, for deployments which carry no config file.
func (config *OfftubeConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	return nil
}

// getDataDir returns the directory used for application state (the cookie
// file and, by default, downloaded media). Defaults to ~/.offtube when not
// configured; a panic occurs if the home directory cannot be derived.
func (config *OfftubeConfig) getDataDir() string {
	if config.DataDirPath != "" {
		return config.DataDirPath
	}

	dir, err := homedir.Dir()
	if err != nil {
		panic(fmt.Sprintf("FAILURE to derive user home dir %s", err))
	}

	return filepath.Join(dir, "."+offtubeUserDirSuffix)
}
