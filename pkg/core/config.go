package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/allma-labs/tiermem-go/pkg/consolidate"
	"github.com/allma-labs/tiermem-go/pkg/scoring"
	"github.com/allma-labs/tiermem-go/pkg/tier"
)

// Config contains the complete configuration for a TierMem engine.
//
// It includes settings for:
//   - Tier capacities (the four bounded containers)
//   - Scoring (decay curves, floors and mixing weights)
//   - Consolidation (thresholds, sweep triggers, retention guards)
//   - Summarizer provider (optional; compression is skipped without one)
//   - Snapshot store (optional; Save/Load fail without one)
//
// Example:
//
//	config := &core.Config{
//	    Capacities: tier.Capacities{
//	        Working:        10,
//	        ShortTerm:      100,
//	        LongTerm:       1000,
//	        ArchiveCeiling: 10000,
//	    },
//	    Summarizer: core.SummarizerConfig{
//	        Provider: "local",
//	    },
//	    Snapshot: core.SnapshotConfig{
//	        Provider: "sqlite",
//	        SQLite:   core.SQLiteConfig{DBPath: "./tiermem.db"},
//	    },
//	}
type Config struct {
	// Capacities contains the per-tier record ceilings.
	Capacities tier.Capacities `json:"capacities" yaml:"capacities"`

	// Scoring contains the retention scoring tunables.
	Scoring scoring.Config `json:"scoring" yaml:"scoring"`

	// Consolidation contains the sweep tunables.
	Consolidation consolidate.Config `json:"consolidation" yaml:"consolidation"`

	// RecallLimit is the default maximum number of records a recall
	// returns when the caller sets no limit. Default: 10.
	RecallLimit int `json:"recall_limit" yaml:"recall_limit"`

	// RelatedThreshold is the default minimum edge weight for expanding a
	// recall query through the associative index. Default: 0.3.
	RelatedThreshold float64 `json:"related_threshold" yaml:"related_threshold"`

	// Summarizer contains summarizer provider configuration (optional).
	Summarizer SummarizerConfig `json:"summarizer" yaml:"summarizer"`

	// Snapshot contains snapshot store configuration (optional).
	Snapshot SnapshotConfig `json:"snapshot" yaml:"snapshot"`
}

// SummarizerConfig contains configuration for the summarizer provider.
//
// Supported providers: none, local, openai
type SummarizerConfig struct {
	// Provider is the summarizer provider name (none, local, openai).
	// Empty means none: the compression pass is skipped.
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the API key for remote providers.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Model is the model name to use (e.g., "gpt-4o-mini").
	Model string `json:"model" yaml:"model"`

	// BaseURL is the base URL for the API (optional, uses provider
	// default if empty).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url"`

	// MaxLen is the summary length ceiling for the local provider.
	MaxLen int `json:"max_len,omitempty" yaml:"max_len"`

	// MaxFailures is the number of consecutive failures that trips the
	// circuit breaker around the provider. Zero uses the default.
	MaxFailures int `json:"max_failures,omitempty" yaml:"max_failures"`

	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration `json:"breaker_timeout,omitempty" yaml:"breaker_timeout"`

	// RatePerSecond limits calls to the provider. Zero disables limiting.
	RatePerSecond float64 `json:"rate_per_second,omitempty" yaml:"rate_per_second"`
}

// SnapshotConfig contains configuration for the snapshot store.
//
// Supported providers: none, sqlite, postgres, mysql
type SnapshotConfig struct {
	// Provider is the snapshot store provider name (none, sqlite,
	// postgres, mysql). Empty means none: Save and Load are unavailable.
	Provider string `json:"provider" yaml:"provider"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `json:"sqlite,omitempty" yaml:"sqlite"`

	// Postgres contains PostgreSQL-specific configuration.
	Postgres SQLServerConfig `json:"postgres,omitempty" yaml:"postgres"`

	// MySQL contains MySQL-specific configuration.
	MySQL SQLServerConfig `json:"mysql,omitempty" yaml:"mysql"`
}

// SQLiteConfig contains SQLite snapshot store configuration.
type SQLiteConfig struct {
	// DBPath is the path to the database file.
	DBPath string `json:"db_path" yaml:"db_path"`
}

// SQLServerConfig contains server-based SQL snapshot store configuration,
// shared by the PostgreSQL and MySQL providers.
type SQLServerConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	SSLMode  string `json:"ssl_mode,omitempty" yaml:"ssl_mode"`
}

// DefaultConfig returns the default engine configuration: default
// capacities, default scoring and consolidation, no summarizer, no snapshot
// store.
func DefaultConfig() *Config {
	return &Config{
		Capacities:       tier.DefaultCapacities(),
		Scoring:          scoring.DefaultConfig(),
		Consolidation:    consolidate.DefaultConfig(),
		RecallLimit:      10,
		RelatedThreshold: 0.3,
	}
}

// Validate validates the configuration.
//
// Checks that capacities are positive, thresholds are ordered and inside
// [0,1], and provider names are known.
//
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if err := c.Capacities.Validate(); err != nil {
		return NewEngineError("Validate", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	cons := c.Consolidation
	if cons.DemotionThreshold < 0 || cons.DemotionThreshold > 1 ||
		cons.PromotionThreshold < 0 || cons.PromotionThreshold > 1 {
		return NewEngineError("Validate", fmt.Errorf("%w: thresholds must be in [0,1]", ErrInvalidConfig))
	}
	if cons.DemotionThreshold >= cons.PromotionThreshold {
		return NewEngineError("Validate", fmt.Errorf("%w: demotion threshold must be below promotion threshold", ErrInvalidConfig))
	}
	if cons.PurgeFloor < 0 || cons.PurgeFloor > 1 {
		return NewEngineError("Validate", fmt.Errorf("%w: purge floor must be in [0,1]", ErrInvalidConfig))
	}
	switch c.Summarizer.Provider {
	case "", "none", "local", "openai":
	default:
		return NewEngineError("Validate", fmt.Errorf("%w: unknown summarizer provider %q", ErrInvalidConfig, c.Summarizer.Provider))
	}
	switch c.Snapshot.Provider {
	case "", "none", "sqlite", "postgres", "mysql":
	default:
		return NewEngineError("Validate", fmt.Errorf("%w: unknown snapshot provider %q", ErrInvalidConfig, c.Snapshot.Provider))
	}
	return nil
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - TIERMEM_WORKING_CAPACITY, TIERMEM_SHORT_TERM_CAPACITY,
//     TIERMEM_LONG_TERM_CAPACITY, TIERMEM_ARCHIVE_CEILING
//   - TIERMEM_DECAY_FLOOR, TIERMEM_DECAY_HALF_LIFE, TIERMEM_INTENSITY_HALF_LIFE
//   - TIERMEM_DEMOTION_THRESHOLD, TIERMEM_PROMOTION_THRESHOLD,
//     TIERMEM_PURGE_FLOOR, TIERMEM_MIN_RETENTION_AGE
//   - TIERMEM_SWEEP_INTERVAL, TIERMEM_WRITE_TRIGGER
//   - TIERMEM_SUMMARIZER (none, local, openai), TIERMEM_SUMMARIZER_API_KEY,
//     TIERMEM_SUMMARIZER_MODEL, TIERMEM_SUMMARIZER_BASE_URL
//   - TIERMEM_SNAPSHOT (none, sqlite, postgres, mysql)
//   - SQLITE_PATH
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, etc.
//   - MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD, etc.
//
// Returns a Config instance, or an error if loading fails.
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	config := DefaultConfig()

	config.Capacities.Working = getEnvInt("TIERMEM_WORKING_CAPACITY", config.Capacities.Working)
	config.Capacities.ShortTerm = getEnvInt("TIERMEM_SHORT_TERM_CAPACITY", config.Capacities.ShortTerm)
	config.Capacities.LongTerm = getEnvInt("TIERMEM_LONG_TERM_CAPACITY", config.Capacities.LongTerm)
	config.Capacities.ArchiveCeiling = getEnvInt("TIERMEM_ARCHIVE_CEILING", config.Capacities.ArchiveCeiling)

	config.Scoring.DecayFloor = getEnvFloat("TIERMEM_DECAY_FLOOR", config.Scoring.DecayFloor)
	config.Scoring.DecayHalfLife = getEnvDuration("TIERMEM_DECAY_HALF_LIFE", config.Scoring.DecayHalfLife)
	config.Scoring.IntensityHalfLife = getEnvDuration("TIERMEM_INTENSITY_HALF_LIFE", config.Scoring.IntensityHalfLife)

	config.Consolidation.DemotionThreshold = getEnvFloat("TIERMEM_DEMOTION_THRESHOLD", config.Consolidation.DemotionThreshold)
	config.Consolidation.PromotionThreshold = getEnvFloat("TIERMEM_PROMOTION_THRESHOLD", config.Consolidation.PromotionThreshold)
	config.Consolidation.PurgeFloor = getEnvFloat("TIERMEM_PURGE_FLOOR", config.Consolidation.PurgeFloor)
	config.Consolidation.MinRetentionAge = getEnvDuration("TIERMEM_MIN_RETENTION_AGE", config.Consolidation.MinRetentionAge)
	config.Consolidation.SweepInterval = getEnvDuration("TIERMEM_SWEEP_INTERVAL", config.Consolidation.SweepInterval)
	config.Consolidation.WriteTrigger = getEnvInt("TIERMEM_WRITE_TRIGGER", config.Consolidation.WriteTrigger)

	config.RecallLimit = getEnvInt("TIERMEM_RECALL_LIMIT", config.RecallLimit)

	config.Summarizer = SummarizerConfig{
		Provider: getEnvOrDefault("TIERMEM_SUMMARIZER", "none"),
		APIKey:   os.Getenv("TIERMEM_SUMMARIZER_API_KEY"),
		Model:    os.Getenv("TIERMEM_SUMMARIZER_MODEL"),
		BaseURL:  os.Getenv("TIERMEM_SUMMARIZER_BASE_URL"),
	}

	provider := getEnvOrDefault("TIERMEM_SNAPSHOT", "none")
	config.Snapshot.Provider = provider
	switch provider {
	case "sqlite":
		config.Snapshot.SQLite = SQLiteConfig{
			DBPath: getEnvOrDefault("SQLITE_PATH", "./tiermem.db"),
		}
	case "postgres":
		config.Snapshot.Postgres = SQLServerConfig{
			Host:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnvOrDefault("POSTGRES_USER", "postgres"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DBName:   getEnvOrDefault("POSTGRES_DATABASE", "tiermem"),
			SSLMode:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		config.Snapshot.MySQL = SQLServerConfig{
			Host:     getEnvOrDefault("MYSQL_HOST", "127.0.0.1"),
			Port:     getEnvInt("MYSQL_PORT", 3306),
			User:     getEnvOrDefault("MYSQL_USER", "root"),
			Password: os.Getenv("MYSQL_PASSWORD"),
			DBName:   getEnvOrDefault("MYSQL_DATABASE", "tiermem"),
		}
	}

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
//
// Parameters:
//   - envPath: Path to the .env file
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file. Fields absent
// from the file keep their defaults.
//
// Parameters:
//   - path: Path to the JSON configuration file
//
// Returns a Config instance, or an error if loading or parsing fails.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewEngineError("LoadConfigFromJSON", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, NewEngineError("LoadConfigFromJSON", err)
	}

	return config, nil
}

// yamlConfig mirrors Config for YAML decoding. Durations are strings in Go
// duration syntax ("24h", "90s") and are converted after parse; numeric
// fields use pointers so an absent key keeps its default.
type yamlConfig struct {
	Capacities struct {
		Working        *int `yaml:"working"`
		ShortTerm      *int `yaml:"short_term"`
		LongTerm       *int `yaml:"long_term"`
		ArchiveCeiling *int `yaml:"archive_ceiling"`
	} `yaml:"capacities"`
	Scoring struct {
		DecayFloor        *float64 `yaml:"decay_floor"`
		DecayHalfLife     string   `yaml:"decay_half_life"`
		IntensityHalfLife string   `yaml:"intensity_half_life"`
		BaseWeight        *float64 `yaml:"base_weight"`
		EmotionalWeight   *float64 `yaml:"emotional_weight"`
		FrequencyWeight   *float64 `yaml:"frequency_weight"`
	} `yaml:"scoring"`
	Consolidation struct {
		DemotionThreshold  *float64 `yaml:"demotion_threshold"`
		PromotionThreshold *float64 `yaml:"promotion_threshold"`
		PurgeFloor         *float64 `yaml:"purge_floor"`
		MinRetentionAge    string   `yaml:"min_retention_age"`
		EdgeFloor          *float64 `yaml:"edge_floor"`
		SweepInterval      string   `yaml:"sweep_interval"`
		WriteTrigger       *int     `yaml:"write_trigger"`
	} `yaml:"consolidation"`
	RecallLimit      *int             `yaml:"recall_limit"`
	RelatedThreshold *float64         `yaml:"related_threshold"`
	Summarizer       SummarizerConfig `yaml:"summarizer"`
	Snapshot         SnapshotConfig   `yaml:"snapshot"`
}

// LoadConfigFromYAML loads configuration from a YAML file. Fields absent
// from the file keep their defaults. Durations accept Go duration strings
// ("24h", "90s").
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns a Config instance, or an error if loading or parsing fails.
func LoadConfigFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewEngineError("LoadConfigFromYAML", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return nil, NewEngineError("LoadConfigFromYAML", err)
	}

	config := DefaultConfig()

	setInt(&config.Capacities.Working, yc.Capacities.Working)
	setInt(&config.Capacities.ShortTerm, yc.Capacities.ShortTerm)
	setInt(&config.Capacities.LongTerm, yc.Capacities.LongTerm)
	setInt(&config.Capacities.ArchiveCeiling, yc.Capacities.ArchiveCeiling)

	setFloat(&config.Scoring.DecayFloor, yc.Scoring.DecayFloor)
	setFloat(&config.Scoring.BaseWeight, yc.Scoring.BaseWeight)
	setFloat(&config.Scoring.EmotionalWeight, yc.Scoring.EmotionalWeight)
	setFloat(&config.Scoring.FrequencyWeight, yc.Scoring.FrequencyWeight)
	if err := setDuration(&config.Scoring.DecayHalfLife, yc.Scoring.DecayHalfLife); err != nil {
		return nil, NewEngineError("LoadConfigFromYAML", err)
	}
	if err := setDuration(&config.Scoring.IntensityHalfLife, yc.Scoring.IntensityHalfLife); err != nil {
		return nil, NewEngineError("LoadConfigFromYAML", err)
	}

	setFloat(&config.Consolidation.DemotionThreshold, yc.Consolidation.DemotionThreshold)
	setFloat(&config.Consolidation.PromotionThreshold, yc.Consolidation.PromotionThreshold)
	setFloat(&config.Consolidation.PurgeFloor, yc.Consolidation.PurgeFloor)
	setFloat(&config.Consolidation.EdgeFloor, yc.Consolidation.EdgeFloor)
	setInt(&config.Consolidation.WriteTrigger, yc.Consolidation.WriteTrigger)
	if err := setDuration(&config.Consolidation.MinRetentionAge, yc.Consolidation.MinRetentionAge); err != nil {
		return nil, NewEngineError("LoadConfigFromYAML", err)
	}
	if err := setDuration(&config.Consolidation.SweepInterval, yc.Consolidation.SweepInterval); err != nil {
		return nil, NewEngineError("LoadConfigFromYAML", err)
	}

	setInt(&config.RecallLimit, yc.RecallLimit)
	setFloat(&config.RelatedThreshold, yc.RelatedThreshold)

	if yc.Summarizer.Provider != "" {
		config.Summarizer = yc.Summarizer
	}
	if yc.Snapshot.Provider != "" {
		config.Snapshot = yc.Snapshot
	}

	return config, nil
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src string) error {
	if src == "" {
		return nil
	}
	d, err := time.ParseDuration(src)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", src, err)
	}
	*dst = d
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
