package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
)

type Config struct {
	DatabaseBusyTimeout       time.Duration
	DatabaseConnectRetryCount int
	DatabaseConnectRetryDelay time.Duration
	DatabaseDebug             bool
	DatabaseFilePath          string
	DatabaseMaxRetries        int
	DataDir                   string
	DriveMaxRetries           int
	GoogleClientID            string
	GoogleClientSecret        string
	GoogleScope               string
	Hostname                  string
	OAuthCallbackPort         int
	OAuthCallbackTimeout      time.Duration
	ServerHost                string
	ServerPort                int
	UserConfig                *UserConfig
	UserConfigFilePath        string
	VaultPassphrase           string
	VaultPath                 string
}

const environmentENV = "ENVIRONMENT"

// DefaultGoogleScope covers the Drive application-data folder that holds the
// library snapshot plus the userinfo fields shown in the account UI.
const DefaultGoogleScope = "https://www.googleapis.com/auth/drive.appdata https://www.googleapis.com/auth/userinfo.email https://www.googleapis.com/auth/userinfo.profile"

func New() (*Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := &Config{
		DatabaseBusyTimeout:       5 * time.Second,
		DatabaseConnectRetryCount: 5,
		DatabaseConnectRetryDelay: 2 * time.Second,
		DatabaseMaxRetries:        5,
		DriveMaxRetries:           3,
		GoogleClientID:            os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:        os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleScope:               DefaultGoogleScope,
		Hostname:                  hostname,
		OAuthCallbackPort:         8085,
		OAuthCallbackTimeout:      5 * time.Minute,
		ServerPort:                3799,
		VaultPassphrase:           os.Getenv("VAULT_PASSPHRASE"),
	}

	if scope := os.Getenv("GOOGLE_SCOPE"); scope != "" {
		cfg.GoogleScope = scope
	}

	switch os.Getenv(environmentENV) {
	case "development", "":
		loadDevelopmentConfig(cfg)
	case "test":
		loadTestConfig(cfg)
	case "production":
		loadProductionConfig(cfg)
	}

	cfg.UserConfigFilePath = userConfigFilePath()
	userConfig, err := loadUserConfig(cfg.UserConfigFilePath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	cfg.UserConfig = userConfig

	return cfg, nil
}
