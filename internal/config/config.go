package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FOODWISE_ML_API_KEY.
const EnvPrefix = "FOODWISE"

// Config holds all application configuration
type Config struct {
	Server struct {
		Port      string `mapstructure:"port"`
		StaticDir string `mapstructure:"static_dir"`
		LogLevel  string `mapstructure:"log_level"`
		LogFormat string `mapstructure:"log_format"`
	} `mapstructure:"server"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	ML struct {
		Type              string        `mapstructure:"type"` // "gemini" or "vertex"
		APIKey            string        `mapstructure:"api_key"`
		Endpoint          string        `mapstructure:"endpoint"`
		Model             string        `mapstructure:"model"`
		ProjectID         string        `mapstructure:"project"`
		Location          string        `mapstructure:"location"`
		CredentialsFile   string        `mapstructure:"credentials_file"`
		RequestsPerMinute int           `mapstructure:"rpm"`
		Timeout           time.Duration `mapstructure:"timeout"`
	} `mapstructure:"ml"`

	NutritionDB struct {
		BaseURL   string        `mapstructure:"base_url"`
		UserAgent string        `mapstructure:"user_agent"`
		Timeout   time.Duration `mapstructure:"timeout"`
	} `mapstructure:"nutritiondb"`

	Pipeline struct {
		MaxAttempts int           `mapstructure:"max_attempts"`
		StepTimeout time.Duration `mapstructure:"step_timeout"`
		RetryDelay  time.Duration `mapstructure:"retry_delay"`
		Temperature float32       `mapstructure:"temperature"`
	} `mapstructure:"pipeline"`

	Images struct {
		Backend       string `mapstructure:"backend"` // "none", "disk" or "s3"
		Dir           string `mapstructure:"dir"`
		Bucket        string `mapstructure:"bucket"`
		Region        string `mapstructure:"region"`
		PublicBaseURL string `mapstructure:"public_base_url"`
	} `mapstructure:"images"`
}

var defaults = map[string]any{
	"server.port":       "8080",
	"server.static_dir": "./static",
	"server.log_level":  "info",
	"server.log_format": "console",

	"database.path": "foodwise.db",

	"ml.type":             "gemini",
	"ml.api_key":          "",
	"ml.endpoint":         "",
	"ml.model":            "",
	"ml.project":          "",
	"ml.location":         "us-central1",
	"ml.credentials_file": "",
	"ml.rpm":              60,
	"ml.timeout":          "60s",

	"nutritiondb.base_url":   "https://world.openfoodfacts.org/api/v0",
	"nutritiondb.user_agent": "FoodWise/1.0",
	"nutritiondb.timeout":    "10s",

	"pipeline.max_attempts": 2,
	"pipeline.step_timeout": "30s",
	"pipeline.retry_delay":  "250ms",
	"pipeline.temperature":  0.2,

	"images.backend":         "none",
	"images.dir":             "./uploads",
	"images.bucket":          "",
	"images.region":          "",
	"images.public_base_url": "",
}

// LoadConfig loads configuration from a JSON file, then applies FOODWISE_*
// environment overrides. A missing file leaves defaults and environment only.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ML.Type = strings.ToLower(strings.TrimSpace(config.ML.Type))
	config.Images.Backend = strings.ToLower(strings.TrimSpace(config.Images.Backend))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is not set")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is not set")
	}

	switch c.ML.Type {
	case "gemini":
		if c.ML.APIKey == "" {
			return fmt.Errorf("ml.api_key is required for the gemini model (or set %s_ML_API_KEY)", EnvPrefix)
		}
	case "vertex":
		if c.ML.ProjectID == "" {
			return fmt.Errorf("ml.project is required for the vertex model")
		}
	default:
		return fmt.Errorf("unsupported ml type %q", c.ML.Type)
	}
	if c.ML.RequestsPerMinute < 0 {
		return fmt.Errorf("ml.rpm must not be negative")
	}

	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be at least 1")
	}
	if c.Pipeline.Temperature < 0 || c.Pipeline.Temperature > 2 {
		return fmt.Errorf("pipeline.temperature must be between 0 and 2")
	}

	switch c.Images.Backend {
	case "none":
	case "disk":
		if c.Images.Dir == "" {
			return fmt.Errorf("images.dir is required for the disk backend")
		}
	case "s3":
		if c.Images.Bucket == "" {
			return fmt.Errorf("images.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unsupported image backend %q", c.Images.Backend)
	}
	return nil
}

// GetConfigPath returns the path to the configuration file
func GetConfigPath() string {
	// First try environment variable
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		return path
	}

	// Then try config directory
	configDir := "config"
	if _, err := os.Stat(configDir); err == nil {
		return filepath.Join(configDir, "config.json")
	}

	// Finally, try current directory
	return "config.json"
}
