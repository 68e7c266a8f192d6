package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port" validate:"required,numeric"`
		// AllowedOrigins restricts which pages may open the websocket bridge.
		// Empty permits all origins.
		AllowedOrigins []string `yaml:"allowedOrigins" validate:"dive,url"`
	} `yaml:"server"`
	API struct {
		BaseURL   string `yaml:"baseUrl" validate:"required"`
		Origin    string `yaml:"origin" validate:"omitempty,url"`
		Token     string `yaml:"token"`
		TokenFile string `yaml:"tokenFile"`
		Timeout   string `yaml:"timeout"`
	} `yaml:"api"`
	Redis struct {
		Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"min=0"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Cache struct {
		TTL string `yaml:"ttl"`
	} `yaml:"cache"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format" validate:"oneof=json pretty"`
	} `yaml:"log"`
	Attempt struct {
		CodeTrustThreshold int `yaml:"codeTrustThreshold" validate:"min=1"`
	} `yaml:"attempt"`
}

// Default is the configuration used when neither the file nor the
// environment says otherwise.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.API.BaseURL = "/api"
	cfg.API.Origin = "http://localhost:5000"
	cfg.API.Timeout = "15s"
	cfg.Redis.TTL = "10m"
	cfg.Cache.TTL = "5m"
	cfg.Log.Level = "info"
	cfg.Log.Format = "pretty"
	cfg.Attempt.CodeTrustThreshold = 20
	return cfg
}

// Load reads YAML config from path on top of the defaults, applies
// environment overrides (including a .env file in the working directory)
// and validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	_ = godotenv.Load()
	applyEnv(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.API.BaseURL, "API_BASE_URL")
	setString(&cfg.API.Origin, "API_ORIGIN")
	setString(&cfg.API.Token, "API_TOKEN")
	setString(&cfg.API.TokenFile, "TOKEN_FILE")
	setString(&cfg.API.Timeout, "REQUEST_TIMEOUT")
	setString(&cfg.Server.Port, "SERVER_PORT")
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = parseOrigins(v)
	}
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Cache.TTL, "CACHE_TTL")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	if v := os.Getenv("CODE_TRUST_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Attempt.CodeTrustThreshold = n
		}
	}
}

func parseOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
