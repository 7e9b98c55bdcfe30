package config

import "time"

func loadTestConfig(cfg *Config) {
	cfg.DatabaseConnectRetryCount = 1
	cfg.DatabaseConnectRetryDelay = 10 * time.Millisecond
	cfg.DatabaseFilePath = ":memory:"
	cfg.DataDir = "./tmp/library-test"
	cfg.OAuthCallbackTimeout = 5 * time.Second
	cfg.ServerHost = "127.0.0.1"
	cfg.ServerPort = 0
	cfg.VaultPath = "./tmp/credentials-test.vault"
	cfg.VaultPassphrase = "kumoshelf-test"
}
