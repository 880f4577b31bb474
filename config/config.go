package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Mode              string `envconfig:"MODE" default:"debug"`
	ListenPort        int    `envconfig:"LISTEN" default:"8822"`
	MaxClient         int    `envconfig:"MAX_CLIENT" default:"5000"`
	AcceptRate        int    `envconfig:"ACCEPT_RATE" default:"200"`
	TimeoutInactivity int    `envconfig:"TIMEOUT_INACTIVITY" default:"60"`
	IdleTimeout       int    `envconfig:"IDLE_TIMEOUT" default:"60"`

	DBDriver      string `envconfig:"DB_DRIVER" default:"mysql"`
	Database      string `envconfig:"DB_DSN" required:"true"`
	DBAutoMigrate bool   `envconfig:"DB_AUTO_MIGRATE" default:"false"`

	AmqpURL string `envconfig:"AMQP_URL" required:"true"`

	ConsumeBatchSize     int           `envconfig:"CONSUME_BATCH_SIZE" default:"200"`
	ConsumeFlushInterval time.Duration `envconfig:"CONSUME_FLUSH_INTERVAL" default:"5s"`
	ConsumeMaxAttempts   int           `envconfig:"CONSUME_MAX_ATTEMPTS" default:"5"`
	DeadLetterDir        string        `envconfig:"DEADLETTER_DIR" default:"data/deadletter"`

	SchemaFile  string `envconfig:"SCHEMA_FILE"`
	PublishFile string `envconfig:"PUBLISH_FILE"`
	FileRoot    string `envconfig:"FILE_ROOT" default:"files"`

	Debug      int    `envconfig:"DEBUG_LOG" default:"0"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"debug"`
	LogDir     string `envconfig:"LOG_DIR" default:"log"`
	LicenseKey string `envconfig:"LICENSE_KEY"`
}

func NewParsedConfig() (Config, error) {
	_ = godotenv.Load(".env")
	cnf := Config{}
	if err := envconfig.Process("", &cnf); err != nil {
		return cnf, err
	}
	return cnf, cnf.Validate()
}

// Validate rejects values envconfig accepts but the gateway cannot run with.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("config -> unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("config -> invalid LISTEN port %d", c.ListenPort)
	}
	if c.MaxClient <= 0 {
		return fmt.Errorf("config -> MAX_CLIENT must be positive")
	}
	if c.ConsumeBatchSize <= 0 {
		return fmt.Errorf("config -> CONSUME_BATCH_SIZE must be positive")
	}
	if c.ConsumeFlushInterval <= 0 {
		return fmt.Errorf("config -> CONSUME_FLUSH_INTERVAL must be positive")
	}
	return nil
}

func (c Config) ReadTimeout() time.Duration {
	return time.Duration(c.TimeoutInactivity) * time.Second
}

func (c Config) IdleDuration() time.Duration {
	return time.Duration(c.IdleTimeout) * time.Second
}
