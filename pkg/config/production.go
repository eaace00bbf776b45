package config

import "os"

func loadProductionConfig(cfg *Config) {
	cfg.DatabaseFilePath = "/data/shelfmark.sqlite"
	if path := os.Getenv("DATABASE_FILE_PATH"); path != "" {
		cfg.DatabaseFilePath = path
	}
}
