package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"Server"`
	Storage StorageConfig `mapstructure:"Storage"`
}

type ServerConfig struct {
	Port    string `mapstructure:"Port"`
	BaseURL string `mapstructure:"BaseURL"`
}

type StorageConfig struct {
	// DataDir - каталог метаданных (directories.json, files.json,
	// trash.json).
	DataDir string `mapstructure:"DataDir"`
	// BlobDir - каталог блобов для локального бэкенда и spool для S3.
	BlobDir string `mapstructure:"BlobDir"`
	// Backend - "local" или "s3".
	Backend string `mapstructure:"Backend"`
}

func NewConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	// Привязываем переменные окружения
	v.BindEnv("Server.Port", "HTTP_PORT")
	v.BindEnv("Server.BaseURL", "BASE_URL")
	v.BindEnv("Storage.DataDir", "STORAGE_DATA_DIR")
	v.BindEnv("Storage.BlobDir", "STORAGE_BLOB_DIR")
	v.BindEnv("Storage.Backend", "STORAGE_BACKEND")

	// Читаем конфигурацию из файла
	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Warning: using only environment variables: %v\n", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Проверяем переменные окружения напрямую если конфигурация неполная
	if cfg.Server.Port == "" {
		cfg.Server.Port = v.GetString("HTTP_PORT")
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = v.GetString("STORAGE_DATA_DIR")
	}
	if cfg.Storage.BlobDir == "" {
		cfg.Storage.BlobDir = v.GetString("STORAGE_BLOB_DIR")
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = v.GetString("STORAGE_BACKEND")
	}

	// Установка значений по умолчанию
	if cfg.Server.Port == "" {
		cfg.Server.Port = "2525"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.BlobDir == "" {
		cfg.Storage.BlobDir = "storage"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.Backend != "local" && cfg.Storage.Backend != "s3" {
		return nil, fmt.Errorf("unknown storage backend %q: expected local or s3", cfg.Storage.Backend)
	}

	return &cfg, nil
}
