// Package config holds the server configuration. It is read from a YAML
// file, then overridden from RPCD_* environment variables, which may in
// turn come from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RPCD_"

// Config is the complete server configuration.
type Config struct {
	Server   Server   `yaml:"Server"`
	Dispatch Dispatch `yaml:"Dispatch"`
	Metrics  Metrics  `yaml:"Metrics"`
	Logging  Logging  `yaml:"Logging"`
}

// Server configures the HTTP and WebSocket listeners.
type Server struct {
	Address             string        `yaml:"Address" env:"ADDRESS"`
	RPCPath             string        `yaml:"RPCPath" env:"RPC_PATH"`
	WSPath              string        `yaml:"WSPath" env:"WS_PATH"`
	MaxRequestBodyBytes int64         `yaml:"MaxRequestBodyBytes" env:"MAX_REQUEST_BODY_BYTES"`
	MaxWebSocketClients int           `yaml:"MaxWebSocketClients" env:"MAX_WS_CLIENTS"`
	WSReadLimit         int64         `yaml:"WSReadLimit" env:"WS_READ_LIMIT"`
	EnableCORS          bool          `yaml:"EnableCORS" env:"ENABLE_CORS"`
	CORSOrigins         []string      `yaml:"CORSOrigins" env:"CORS_ORIGINS"`
	Compression         bool          `yaml:"Compression" env:"COMPRESSION"`
	ShutdownTimeout     time.Duration `yaml:"ShutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
}

// Dispatch configures request processing.
type Dispatch struct {
	// MaxConcurrency bounds the asynchronous handler bodies running at
	// once. Zero means unbounded.
	MaxConcurrency int `yaml:"MaxConcurrency" env:"MAX_CONCURRENCY"`
	// RequestTimeout bounds one request or batch. Zero means none.
	RequestTimeout time.Duration `yaml:"RequestTimeout" env:"REQUEST_TIMEOUT"`
	// MaxBatchSize rejects longer batches. Zero means no limit.
	MaxBatchSize int `yaml:"MaxBatchSize" env:"MAX_BATCH_SIZE"`
}

// Metrics configures the Prometheus listener.
type Metrics struct {
	Enabled bool   `yaml:"Enabled" env:"METRICS_ENABLED"`
	Address string `yaml:"Address" env:"METRICS_ADDRESS"`
}

// Logging configures the logger.
type Logging struct {
	// Level is a zap level name: debug, info, warn or error.
	Level string `yaml:"Level" env:"LOG_LEVEL"`
	// Encoding is "console" or "json".
	Encoding string `yaml:"Encoding" env:"LOG_ENCODING"`
}

// Default returns the configuration used for anything not set explicitly.
func Default() Config {
	return Config{
		Server: Server{
			Address:             ":8080",
			RPCPath:             "/rpc",
			WSPath:              "/ws",
			MaxRequestBodyBytes: 1 << 20,
			MaxWebSocketClients: 64,
			WSReadLimit:         4 << 20,
			Compression:         true,
			ShutdownTimeout:     10 * time.Second,
		},
		Dispatch: Dispatch{
			MaxBatchSize: 100,
		},
		Metrics: Metrics{
			Address: ":9090",
		},
		Logging: Logging{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// Load builds the configuration. Defaults are overlaid by the YAML file at
// path, if path is not empty, and then by the environment. Variables from
// envFiles are added to the environment first; missing env files are
// skipped. The result is validated.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("unable to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("problem unmarshaling config: %w", err)
		}
	}

	for _, f := range envFiles {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		// Load never overrides variables that are already set.
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("unable to load env file %s: %w", f, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	for _, section := range []any{&c.Server, &c.Dispatch, &c.Metrics, &c.Logging} {
		if err := decodeEnv(section, lookup); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%s* overrides: %w", EnvPrefix, err)
	}
	return nil
}

// decodeEnv overwrites the fields of the struct dst points to whose env tag
// names a variable that is set. Untouched fields keep their value.
func decodeEnv(dst any, lookup func(string) (string, bool)) error {
	vars := map[string]any{}
	t := reflect.TypeOf(dst).Elem()
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Tag.Get("env")
		if name == "" {
			continue
		}
		if v, ok := lookup(EnvPrefix + name); ok {
			vars[name] = v
		}
	}
	if len(vars) == 0 {
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "env",
		WeaklyTypedInput: true,
		ZeroFields:       true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToList,
		),
		Result: dst,
	})
	if err != nil {
		return err
	}
	return dec.Decode(vars)
}

// stringToList reads a comma separated variable into a []string field.
func stringToList(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeFor[[]string]() {
		return data, nil
	}
	return splitList(data.(string)), nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every inconsistent setting.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Address == "" {
		errs = append(errs, errors.New("Server.Address is empty"))
	}
	if !strings.HasPrefix(c.Server.RPCPath, "/") {
		errs = append(errs, fmt.Errorf("Server.RPCPath %q must start with /", c.Server.RPCPath))
	}
	if c.Server.WSPath != "" {
		if !strings.HasPrefix(c.Server.WSPath, "/") {
			errs = append(errs, fmt.Errorf("Server.WSPath %q must start with /", c.Server.WSPath))
		} else if c.Server.WSPath == c.Server.RPCPath {
			errs = append(errs, errors.New("Server.WSPath and Server.RPCPath must differ"))
		}
	}
	if c.Server.MaxRequestBodyBytes < 0 || c.Server.WSReadLimit < 0 || c.Server.MaxWebSocketClients < 0 {
		errs = append(errs, errors.New("Server limits must not be negative"))
	}
	if c.Server.EnableCORS && len(c.Server.CORSOrigins) == 0 {
		errs = append(errs, errors.New("Server.CORSOrigins is required when CORS is enabled"))
	}
	if c.Dispatch.MaxConcurrency < 0 || c.Dispatch.MaxBatchSize < 0 || c.Dispatch.RequestTimeout < 0 {
		errs = append(errs, errors.New("Dispatch limits must not be negative"))
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, errors.New("Metrics.Address is required when metrics are enabled"))
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("Logging.Level: %w", err))
	}
	switch c.Logging.Encoding {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("Logging.Encoding %q must be console or json", c.Logging.Encoding))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
