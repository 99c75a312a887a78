package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/pressroom/internal/api"
	"github.com/starford/pressroom/internal/models"
	"github.com/starford/pressroom/internal/secret"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	CMS       CMSConfig         `yaml:"cms"`
	Secrets   SecretsConfig     `yaml:"secrets"`
	Scheduler SchedulerConfig   `yaml:"scheduler"`
	RateLimit RateLimitConfig   `yaml:"rate_limit"`
	Events    EventsConfig      `yaml:"events"`
	MCP       MCPConfig         `yaml:"mcp"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.SQLite, &c.Auth, &c.CMS, &c.Secrets, &c.Scheduler, &c.RateLimit, &c.Events,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level" env:"PRESSROOM_LOG_LEVEL"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" env:"PRESSROOM_HTTP_PORT"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path" env:"PRESSROOM_SQLITE_PATH"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how callers are identified:
//   - "disabled" (default): every request acts as DefaultOwner, for local use.
//   - "jwt": HS256 bearer tokens whose sub claim is the owner; JWTSecret is required.
type AuthConfig struct {
	Mode         string `yaml:"mode" env:"PRESSROOM_AUTH_MODE"`
	JWTSecret    string `yaml:"jwt_secret" env:"PRESSROOM_JWT_SECRET"`
	Issuer       string `yaml:"issuer" env:"PRESSROOM_JWT_ISSUER"`
	DefaultOwner string `yaml:"default_owner" env:"PRESSROOM_DEFAULT_OWNER"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = api.AuthDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(api.AuthDisabled, api.AuthJWT)),
	); err != nil {
		return err
	}
	if c.Mode == api.AuthJWT && c.JWTSecret == "" {
		return fmt.Errorf("auth: mode is %q but jwt_secret is empty", api.AuthJWT)
	}
	if c.Mode == api.AuthDisabled && c.DefaultOwner == "" {
		return fmt.Errorf("auth: mode is %q but default_owner is empty", api.AuthDisabled)
	}
	return nil
}

// API converts the section to the middleware configuration.
func (c *AuthConfig) API() api.AuthConfig {
	return api.AuthConfig{
		Mode:         c.Mode,
		Secret:       c.JWTSecret,
		Issuer:       c.Issuer,
		DefaultOwner: c.DefaultOwner,
	}
}

// CMSConfig holds the process-wide default CMS credentials and client timeout.
// Any credential field may be blank; owners fill the gaps in their settings.
type CMSConfig struct {
	URL                 string        `yaml:"url" env:"PRESSROOM_CMS_URL"`
	Username            string        `yaml:"username" env:"PRESSROOM_CMS_USERNAME"`
	ApplicationPassword string        `yaml:"application_password" env:"PRESSROOM_CMS_APPLICATION_PASSWORD"`
	Timeout             time.Duration `yaml:"timeout" env:"PRESSROOM_CMS_TIMEOUT"`
}

// Validate validates the CMS configuration.
func (c *CMSConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.By(optionalHTTPURL)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// Defaults returns the configured default credentials.
func (c *CMSConfig) Defaults() models.Credentials {
	return models.Credentials{URL: c.URL, Username: c.Username, ApplicationPassword: c.ApplicationPassword}
}

func optionalHTTPURL(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL including the scheme")
	}
	return nil
}

// SecretsConfig holds the key sealing stored application passwords.
// An empty key stores them unsealed.
type SecretsConfig struct {
	Key string `yaml:"key" env:"PRESSROOM_SECRETS_KEY"`
}

// Validate checks that the key decodes to an AES-128, 192 or 256 key.
func (c *SecretsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Key, validation.By(func(any) error {
			_, err := secret.FromConfig(c.Key)
			return err
		})),
	)
}

// SchedulerConfig controls the due-article poller. A zero interval disables it.
type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval" env:"PRESSROOM_SCHEDULER_INTERVAL"`
	Batch    int           `yaml:"batch" env:"PRESSROOM_SCHEDULER_BATCH"`
}

// Validate validates the scheduler configuration.
func (c *SchedulerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.Min(time.Duration(0))),
		validation.Field(&c.Batch, validation.Min(0), validation.Max(1000)),
	)
}

// RateLimitConfig bounds publish and test-connection calls per owner.
// A zero rps disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" env:"PRESSROOM_RATE_LIMIT_RPS"`
	Burst int     `yaml:"burst" env:"PRESSROOM_RATE_LIMIT_BURST"`
}

// Validate validates the rate limit configuration.
func (c *RateLimitConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RPS, validation.Min(0.0)),
		validation.Field(&c.Burst, validation.Min(0)),
	)
}

// EventsConfig configures optional event sinks.
type EventsConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

// Validate validates the events configuration.
func (c *EventsConfig) Validate() error {
	return c.Kafka.Validate()
}

// KafkaConfig enables the Kafka sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"PRESSROOM_KAFKA_BROKERS"`
	Topic   string   `yaml:"topic" env:"PRESSROOM_KAFKA_TOPIC"`
}

// Enabled reports whether events are produced to Kafka.
func (c *KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// Validate validates the Kafka configuration.
func (c *KafkaConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Topic, validation.Required),
	)
}

// MCPConfig holds MCP server configuration.
type MCPConfig struct {
	// OwnerID is the owner every MCP tool acts as.
	OwnerID string `yaml:"owner_id" env:"PRESSROOM_MCP_OWNER"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./pressroom.db",
		},
		Auth: AuthConfig{
			Mode:         api.AuthDisabled,
			DefaultOwner: "local",
		},
		CMS: CMSConfig{
			Timeout: 10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Interval: 30 * time.Second,
			Batch:    50,
		},
		RateLimit: RateLimitConfig{
			RPS:   1,
			Burst: 5,
		},
		Events: EventsConfig{
			Kafka: KafkaConfig{Topic: "pressroom.articles"},
		},
	}
}
