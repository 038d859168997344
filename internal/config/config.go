package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Audit store backends.
const (
	AuditBackendDynamoDB = "dynamodb"
	AuditBackendSQLite   = "sqlite"
)

// Config holds service configuration. It is built once by Load and never mutated.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration // 0 = no client timeout

	S3BucketName string
	S3Endpoint   string // optional; MinIO/LocalStack

	AuditBackend      string // "dynamodb" or "sqlite"
	DynamoDBTableName string
	DynamoDBEndpoint  string // optional; LocalStack/dynamodb-local
	AuditSQLitePath   string

	AWSRegion string

	CacheExpiry time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	WarmCities    []string
	WarmInterval  time.Duration // 0 = warm once at startup
	TrackedCities []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Cache struct {
		Bucket        string   `yaml:"bucket"`
		Endpoint      string   `yaml:"endpoint"`
		ExpirySeconds int      `yaml:"expiry_seconds"`
		WarmCities    []string `yaml:"warm_cities"`
		WarmInterval  string   `yaml:"warm_interval"`
	} `yaml:"cache"`

	Audit struct {
		Backend    string `yaml:"backend"`
		Table      string `yaml:"table"`
		Endpoint   string `yaml:"endpoint"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"audit"`

	AWS struct {
		Region string `yaml:"region"`
	} `yaml:"aws"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Metrics struct {
		TrackedCities []string `yaml:"tracked_cities"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load builds the configuration. Sources, lowest precedence first: config/{ENV_NAME}.yaml
// (default dev, optional), config/secrets.yaml (weather key only), .env, process env.
// CONFIG_DIR overrides the config directory. Returns an error naming every missing
// required setting; callers must not start serving in that case.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("config: get working directory: %w", err)
		}
		configDir = filepath.Join(cwd, "config")
	}

	var fc fileConfig
	configPath := filepath.Join(configDir, env+".yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// env-only deployment
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("SERVER_PORT"), fc.Server.Port, "8080")

	cfg.WeatherAPIKey = strings.TrimSpace(os.Getenv("WEATHER_KEY"))
	if cfg.WeatherAPIKey == "" {
		key, err := loadAPIKeyFromSecrets(filepath.Join(configDir, "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.WeatherAPIKey = key
	}
	cfg.WeatherAPIURL = firstNonEmpty(os.Getenv("WEATHER_API_URL"), fc.WeatherAPI.URL, "http://api.openweathermap.org/data/2.5/weather")
	cfg.WeatherAPITimeout = parseDuration(fc.WeatherAPI.Timeout, 0)

	cfg.S3BucketName = firstNonEmpty(os.Getenv("S3_BUCKET_NAME"), fc.Cache.Bucket)
	cfg.S3Endpoint = firstNonEmpty(os.Getenv("S3_ENDPOINT"), fc.Cache.Endpoint)

	cfg.AuditBackend = strings.ToLower(firstNonEmpty(os.Getenv("AUDIT_BACKEND"), fc.Audit.Backend, AuditBackendDynamoDB))
	cfg.DynamoDBTableName = firstNonEmpty(os.Getenv("DYNAMODB_TABLE_NAME"), fc.Audit.Table)
	cfg.DynamoDBEndpoint = firstNonEmpty(os.Getenv("DYNAMODB_ENDPOINT"), fc.Audit.Endpoint)
	cfg.AuditSQLitePath = firstNonEmpty(os.Getenv("AUDIT_SQLITE_PATH"), fc.Audit.SQLitePath, "audit.db")

	cfg.AWSRegion = firstNonEmpty(os.Getenv("AWS_REGION"), fc.AWS.Region)

	if v := strings.TrimSpace(os.Getenv("CACHE_EXPIRY_TIME")); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("CACHE_EXPIRY_TIME must be an integer number of seconds, got %q", v)
		}
		cfg.CacheExpiry = time.Duration(secs) * time.Second
	} else if fc.Cache.ExpirySeconds != 0 {
		cfg.CacheExpiry = time.Duration(fc.Cache.ExpirySeconds) * time.Second
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.WarmCities = fc.Cache.WarmCities
	if v := os.Getenv("WARM_CITIES"); v != "" {
		cfg.WarmCities = splitList(v)
	}
	cfg.WarmInterval = parseDuration(fc.Cache.WarmInterval, 0)
	cfg.TrackedCities = fc.Metrics.TrackedCities

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadAPIKeyFromSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherAPIKey), nil
}

// validate reports every missing required setting in one error, then checks values.
func validate(cfg *Config) error {
	var missing []string
	if cfg.WeatherAPIKey == "" {
		missing = append(missing, "WEATHER_KEY")
	}
	if cfg.S3BucketName == "" {
		missing = append(missing, "S3_BUCKET_NAME")
	}
	if cfg.DynamoDBTableName == "" {
		missing = append(missing, "DYNAMODB_TABLE_NAME")
	}
	if cfg.AWSRegion == "" {
		missing = append(missing, "AWS_REGION")
	}
	if cfg.CacheExpiry == 0 {
		missing = append(missing, "CACHE_EXPIRY_TIME")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if cfg.CacheExpiry < 0 {
		return fmt.Errorf("CACHE_EXPIRY_TIME must be positive, got %s", cfg.CacheExpiry)
	}
	switch cfg.AuditBackend {
	case AuditBackendDynamoDB, AuditBackendSQLite:
	default:
		return fmt.Errorf("audit backend must be dynamodb or sqlite, got %q", cfg.AuditBackend)
	}
	return nil
}

// parseDuration parses a duration string, returning defaultVal when empty, invalid or negative.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return defaultVal
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
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
