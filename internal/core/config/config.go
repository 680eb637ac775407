package config

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/viper"
)

// AppConfig holds the configuration for the application.
// Tags used:
// - mapstructure: used by viper to unmarshal
// - default: default value to set if missing
// - required: if "true", error if missing
type AppConfig struct {
	// Environment specifies the runtime environment (e.g., development, production).
	Environment string `mapstructure:"APP_ENV" default:"development"`
	// LogLevel defines the logging verbosity (e.g., debug, info, error).
	LogLevel string `mapstructure:"LOG_LEVEL" default:"info"`
	// ServerPort is the port where the server will listen.
	ServerPort int `mapstructure:"SERVER_PORT" default:"8080"`

	// Store selects and tunes the delivery store.
	Store StoreConfig `mapstructure:",squash"`

	// Auth holds the bearer token settings.
	Auth AuthConfig `mapstructure:",squash"`

	// Fanout holds the realtime delivery settings.
	Fanout FanoutConfig `mapstructure:",squash"`
}

// StoreConfig holds the delivery store settings.
type StoreConfig struct {
	// Driver is either "redis" or "postgres".
	Driver string `mapstructure:"STORE_DRIVER" default:"redis"`
	// RedisURL is used by the redis store, the token whitelist and the redis fanout.
	RedisURL string `mapstructure:"REDIS_URL" default:"redis://localhost:6379/0"`
	// DatabaseURL is required when Driver is "postgres".
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Timeout bounds every store call.
	Timeout time.Duration `mapstructure:"STORE_TIMEOUT" default:"5s"`
	// MaxRetries caps optimistic retries of a contended redis update.
	MaxRetries int `mapstructure:"STORE_MAX_RETRIES" default:"100"`
	// IDMaxAttempts caps identifier generation on collision.
	IDMaxAttempts int `mapstructure:"ID_MAX_ATTEMPTS" default:"10"`
}

// AuthConfig holds the token signing settings.
type AuthConfig struct {
	// JWTSecret signs and verifies bearer tokens.
	JWTSecret string `mapstructure:"JWT_SECRET" required:"true"`
	// JWTIssuer is set on issued tokens and enforced on verification.
	JWTIssuer string `mapstructure:"JWT_ISSUER" default:"delivery-tracker"`
	// TokenTTL is the lifetime of issued tokens.
	TokenTTL time.Duration `mapstructure:"TOKEN_TTL" default:"1h"`
}

// FanoutConfig holds the realtime settings.
type FanoutConfig struct {
	// Backend is "memory" for a single instance or "redis" to relay across instances.
	Backend string `mapstructure:"FANOUT_BACKEND" default:"memory"`
	// ChannelPrefix is prepended to delivery ids to name redis channels.
	ChannelPrefix string `mapstructure:"FANOUT_CHANNEL_PREFIX" default:"delivery_"`
	// SubscriberBuffer is the per-session queue length.
	SubscriberBuffer int `mapstructure:"SUBSCRIBER_BUFFER" default:"16"`
	// SubscriberWriteTimeout bounds a single websocket write.
	SubscriberWriteTimeout time.Duration `mapstructure:"SUBSCRIBER_WRITE_TIMEOUT" default:"5s"`
	// PublishTimeout bounds a single notification after a committed write.
	PublishTimeout time.Duration `mapstructure:"PUBLISH_TIMEOUT" default:"2s"`
}

// Load loads configuration from .env files and environment variables.
func Load(path string) (*AppConfig, error) {
	v := viper.New()

	v.AutomaticEnv()

	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config AppConfig

	if err := processTags(v, &config); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := validateRequired(&config); err != nil {
		return nil, err
	}

	if err := validateChoices(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// processTags iterates over the struct fields and sets default values in Viper.
func processTags(v *viper.Viper, config interface{}) error {
	val := reflect.ValueOf(config)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if err := processTags(v, val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		key := field.Tag.Get("mapstructure")
		defaultValue := field.Tag.Get("default")

		if key != "" {
			v.BindEnv(key)
		}

		if key != "" && defaultValue != "" {
			v.SetDefault(key, defaultValue)
		}
	}
	return nil
}

// validateRequired checks if fields marked as required have non-zero values.
func validateRequired(config interface{}) error {
	val := reflect.ValueOf(config)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if err := validateRequired(val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		required := field.Tag.Get("required")
		if required == "true" {
			value := val.Field(i)
			if isZero(value) {
				key := field.Tag.Get("mapstructure")
				return fmt.Errorf("missing required configuration: %s", key)
			}
		}
	}
	return nil
}

// isZero checks if a reflect.Value is the zero value for its type.
func isZero(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return v.String() == ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	default:
		return v.IsZero()
	}
}

// validateChoices checks the enumerated settings and their dependent fields.
func validateChoices(config *AppConfig) error {
	switch config.Store.Driver {
	case "redis":
	case "postgres":
		if config.Store.DatabaseURL == "" {
			return fmt.Errorf("missing required configuration: DATABASE_URL")
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: must be redis or postgres", config.Store.Driver)
	}

	switch config.Fanout.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid FANOUT_BACKEND %q: must be memory or redis", config.Fanout.Backend)
	}
	return nil
}
