package config

import (
	"os"
	"strconv"

	// this will automatically load your .env file:
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	DB         PostgresConfig
	Salesforce SalesforceConfig
	Upload     UploadConfig
	QueueURL   string
}

type PostgresConfig struct {
	Username string
	Password string
	URL      string
	Port     string
}

// SalesforceConfig carries either JWT bearer credentials or an already
// established session. When AccessToken and InstanceURL are both set the
// session wins and no login happens.
type SalesforceConfig struct {
	LoginURL       string
	ClientID       string
	Username       string
	PrivateKeyPath string
	APIVersion     string
	InstanceURL    string
	AccessToken    string
}

type UploadConfig struct {
	BatchSize  int // records per batch file
	PollTries  int // state checks per batch before giving up
	PollWaitMS int // sleep before each state check
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		QueueURL: os.Getenv("QUEUE_URL"),
		DB: PostgresConfig{
			Username: os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PWD"),
			URL:      os.Getenv("POSTGRES_URL"),
			Port:     os.Getenv("POSTGRES_PORT"),
		},
		Salesforce: SalesforceConfig{
			LoginURL:       os.Getenv("SF_LOGIN_URL"),
			ClientID:       os.Getenv("SF_CLIENT_ID"),
			Username:       os.Getenv("SF_USERNAME"),
			PrivateKeyPath: os.Getenv("SF_PRIVATE_KEY_PATH"),
			APIVersion:     os.Getenv("SF_API_VERSION"),
			InstanceURL:    os.Getenv("SF_INSTANCE_URL"),
			AccessToken:    os.Getenv("SF_ACCESS_TOKEN"),
		},
		Upload: UploadConfig{
			BatchSize:  envInt("UPLOAD_BATCH_SIZE", 10000),
			PollTries:  envInt("UPLOAD_POLL_TRIES", 10),
			PollWaitMS: envInt("UPLOAD_POLL_WAIT_MS", 3000),
		},
	}

	return cfg, nil
}

// envInt reads a positive integer env var, falling back to def when unset or
// unparseable.
func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}
