package config

import "os"

func loadProductionConfig(cfg *Config) {
	cfg.ServerHost = "127.0.0.1"

	cfg.DatabaseFilePath = os.Getenv("DATABASE_FILE_PATH")
	if cfg.DatabaseFilePath == "" {
		cfg.DatabaseFilePath = "/data/kumoshelf.sqlite"
	}

	cfg.DataDir = os.Getenv("DATA_DIRECTORY")
	if cfg.DataDir == "" {
		cfg.DataDir = "/data/library"
	}

	cfg.VaultPath = os.Getenv("VAULT_PATH")
	if cfg.VaultPath == "" {
		cfg.VaultPath = "/data/credentials.vault"
	}
}
