package config

import (
	"os"
	"strconv"
)

func loadDevelopmentConfig(cfg *Config) {
	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err == nil {
		cfg.ServerPort = port
	}

	cfg.DatabaseDebug = true
	cfg.DatabaseFilePath = "./tmp/data.sqlite"
	cfg.DataDir = "./tmp/library"
	cfg.ServerHost = "127.0.0.1"
	cfg.VaultPath = "./tmp/credentials.vault"
	if cfg.VaultPassphrase == "" {
		cfg.VaultPassphrase = "kumoshelf-development"
	}
}
