package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all configuration for the application.
type Config struct {
	HTTPPort      int    `json:"http_port" validate:"gte=0"`
	MetricsPort   int    `json:"metrics_port" validate:"gte=0"`
	LogLevel      string `json:"log_level" validate:"oneof=debug info warn error"`
	NumWorkers    int    `json:"num_workers" validate:"min=1"`
	DBPath        string `json:"db_path" validate:"required"`
	EncryptionKey string `json:"encryption_key" validate:"required,len=32"`

	Auth struct {
		ClientID     string   `json:"client_id" validate:"required"`
		ClientSecret string   `json:"client_secret" validate:"required"`
		RedirectURL  string   `json:"redirect_url" validate:"required,url"`
		Scopes       []string `json:"scopes" validate:"min=1,dive,required"`
	} `json:"auth"`

	Admin struct {
		Username     string `json:"username" validate:"required"`
		PasswordHash string `json:"password_hash" validate:"required"`
	} `json:"admin"`

	Refresh struct {
		Margin         Duration `json:"margin" validate:"min=1s"`
		SweepInterval  Duration `json:"sweep_interval" validate:"min=1s"`
		SweepLookahead Duration `json:"sweep_lookahead" validate:"min=1s"`
	} `json:"refresh"`
}

// Duration is a wrapper around time.Duration that implements JSON
// marshaling/unmarshaling
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("invalid duration")
	}
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads configuration from a file and overrides with environment
// variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills in fields the config file may leave out.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = 4
	}
	if len(c.Auth.Scopes) == 0 {
		c.Auth.Scopes = []string{"https://www.googleapis.com/auth/drive.file"}
	}
	if c.Refresh.Margin.Duration == 0 {
		c.Refresh.Margin = Duration{60 * time.Second}
	}
	if c.Refresh.SweepInterval.Duration == 0 {
		c.Refresh.SweepInterval = Duration{5 * time.Minute}
	}
	if c.Refresh.SweepLookahead.Duration == 0 {
		c.Refresh.SweepLookahead = Duration{10 * time.Minute}
	}
}

// applyEnvOverrides overrides config fields with environment variables.
func (c *Config) applyEnvOverrides() error {
	// Auth overrides
	if v := os.Getenv("AUTH_CLIENT_ID"); v != "" {
		c.Auth.ClientID = v
	}
	if v := os.Getenv("AUTH_CLIENT_SECRET"); v != "" {
		c.Auth.ClientSecret = v
	}
	if v := os.Getenv("AUTH_REDIRECT_URL"); v != "" {
		c.Auth.RedirectURL = v
	}

	// Admin overrides
	if v := os.Getenv("ADMIN_USERNAME"); v != "" {
		c.Admin.Username = v
	}
	if v := os.Getenv("ADMIN_PASSWORD_HASH"); v != "" {
		c.Admin.PasswordHash = v
	}

	// HTTPPort overrides
	if v := os.Getenv("HTTP_PORT"); v != "" {
		var err error
		c.HTTPPort, err = parseInt(v)
		if err != nil {
			return fmt.Errorf("parsing HTTP_PORT: %w", err)
		}
	}

	// MetricsPort overrides
	if v := os.Getenv("METRICS_PORT"); v != "" {
		var err error
		c.MetricsPort, err = parseInt(v)
		if err != nil {
			return fmt.Errorf("parsing METRICS_PORT: %w", err)
		}
	}

	// LogLevel overrides
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	// DBPath overrides
	if v := os.Getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}

	// EncryptionKey overrides
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		c.EncryptionKey = v
	}

	// Refresh overrides
	if v := os.Getenv("REFRESH_MARGIN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing REFRESH_MARGIN: %w", err)
		}
		c.Refresh.Margin = Duration{d}
	}
	if v := os.Getenv("REFRESH_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing REFRESH_SWEEP_INTERVAL: %w", err)
		}
		c.Refresh.SweepInterval = Duration{d}
	}
	if v := os.Getenv("REFRESH_SWEEP_LOOKAHEAD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing REFRESH_SWEEP_LOOKAHEAD: %w", err)
		}
		c.Refresh.SweepLookahead = Duration{d}
	}

	return nil
}

// validate checks the configuration for errors.
func (c *Config) validate() error {
	validate := validator.New()

	// Register custom validation for Duration
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if duration, ok := field.Interface().(Duration); ok {
			return duration.Duration
		}
		return nil
	}, Duration{})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
