package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvSpec is the environment of every Suite33 service. Each service reads
// the fields it needs and ignores the rest.
type EnvSpec struct {
	LogLevel  string `envconfig:"log_level" default:"info"`
	LogFormat string `envconfig:"log_format" default:"json"`

	DBHost        string `envconfig:"db_host" default:"localhost"`
	DBPort        string `envconfig:"db_port" default:"5432"`
	DBUser        string `envconfig:"db_user" default:"postgres"`
	DBPassword    string `envconfig:"db_password" default:"password"`
	DBName        string `envconfig:"db_name" default:"suite33"`
	DBSSLMode     string `envconfig:"db_ssl_mode" default:"disable"`
	DBAutoMigrate bool   `envconfig:"db_auto_migrate" default:"true"`

	RedisHost     string        `envconfig:"redis_host" default:"localhost"`
	RedisPort     string        `envconfig:"redis_port" default:"6379"`
	RedisPassword string        `envconfig:"redis_password"`
	RedisDB       int           `envconfig:"redis_db" default:"0"`
	SessionTTL    time.Duration `envconfig:"session_ttl" default:"12h"`
	CookieSecure  bool          `envconfig:"cookie_secure" default:"false"`

	// Empty brokers means notifications only go to the log.
	KafkaBrokers          []string `envconfig:"kafka_brokers"`
	KafkaGroupID          string   `envconfig:"kafka_group_id" default:"suite33-notifier"`
	BusinessEventsChannel string   `envconfig:"business_events_channel" default:"business-events"`
	InventoryAlertChannel string   `envconfig:"inventory_alert_channel" default:"inventory-alerts"`

	AWSRegion           string `envconfig:"aws_region"`
	CognitoUserPoolID   string `envconfig:"cognito_user_pool_id"`
	CognitoClientID     string `envconfig:"cognito_client_id"`
	CognitoClientSecret string `envconfig:"cognito_client_secret"`

	AuthServicePort     string `envconfig:"auth_service_port" default:"8001"`
	BusinessServicePort string `envconfig:"business_service_port" default:"8002"`
	RecordsServicePort  string `envconfig:"records_service_port" default:"8003"`
	NotifierServicePort string `envconfig:"notifier_service_port" default:"8004"`
	GatewayPort         string `envconfig:"api_gateway_port" default:"8080"`

	AuthServiceURL     string `envconfig:"auth_service_url" default:"http://localhost:8001"`
	BusinessServiceURL string `envconfig:"business_service_url" default:"http://localhost:8002"`
	RecordsServiceURL  string `envconfig:"records_service_url" default:"http://localhost:8003"`
	NotifierServiceURL string `envconfig:"notifier_service_url" default:"http://localhost:8004"`

	WebhookURL       string        `envconfig:"webhook_url"`
	WebhookRate      float64       `envconfig:"webhook_rate" default:"5"`
	WebhookBurst     int           `envconfig:"webhook_burst" default:"10"`
	RetryInterval    time.Duration `envconfig:"retry_interval" default:"30s"`
	RetryMaxAttempts int           `envconfig:"retry_max_attempts" default:"8"`
}

// CognitoEnabled reports whether a Cognito user pool is configured.
func (s *EnvSpec) CognitoEnabled() bool {
	return s.AWSRegion != "" && s.CognitoUserPoolID != ""
}

// RedisAddr returns host:port of the session store.
func (s *EnvSpec) RedisAddr() string {
	return fmt.Sprintf("%s:%s", s.RedisHost, s.RedisPort)
}

// Load reads an optional .env file (or the given files) into the process
// environment and then decodes the environment into an EnvSpec.
func Load(files ...string) (*EnvSpec, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	spec := new(EnvSpec)
	if err := envconfig.Process("", spec); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	return spec, nil
}
