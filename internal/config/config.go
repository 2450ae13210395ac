// Package config holds the runtime settings for slowstock. Values come
// from a YAML file, SLOWSTOCK_* environment variables and an optional .env
// file, layered through viper.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kylemclaren/slowstock/internal/db"
	"github.com/kylemclaren/slowstock/internal/importer"
	"github.com/kylemclaren/slowstock/internal/inventory"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "SLOWSTOCK"

// Config is the full settings tree.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
	Import    ImportConfig    `mapstructure:"import"`
	Charge    ChargeConfig    `mapstructure:"charge"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Evidence  EvidenceConfig  `mapstructure:"evidence"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// DatabaseConfig selects the store. An empty DSN on sqlite3 means
// slowstock.db inside DataDir.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port       int    `mapstructure:"port"`
	CronSecret string `mapstructure:"cron_secret"`
}

// SweeperConfig schedules the SLA sweep. An empty schedule disables it.
type SweeperConfig struct {
	Schedule string `mapstructure:"schedule"`
}

// ImportConfig controls drop-directory imports and sheet headers.
type ImportConfig struct {
	DropDir  string           `mapstructure:"drop_dir"`
	Schedule string           `mapstructure:"schedule"`
	Columns  importer.Columns `mapstructure:"columns"`
}

// ChargeConfig overrides the special-owner rule.
type ChargeConfig struct {
	SpecialPattern string `mapstructure:"special_pattern"`
	SpecialOwner   string `mapstructure:"special_owner"`
}

// WebhookConfig lists notification targets. Empty URLs are skipped.
type WebhookConfig struct {
	SlackURL   string `mapstructure:"slack_url"`
	DiscordURL string `mapstructure:"discord_url"`
}

// EvidenceConfig places uploaded evidence files.
type EvidenceConfig struct {
	Dir     string `mapstructure:"dir"`
	BaseURL string `mapstructure:"base_url"`
}

// LogConfig controls the shared logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig toggles OpenTelemetry.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Stdout  bool `mapstructure:"stdout"`
}

// DefaultDataDir is ~/.slowstock, or ./.slowstock when the home directory
// is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".slowstock"
	}
	return filepath.Join(home, ".slowstock")
}

// Default returns a Config with the built-in values.
func Default() *Config {
	return &Config{
		DataDir:  DefaultDataDir(),
		Database: DatabaseConfig{Driver: db.SQLite},
		Server:   ServerConfig{Port: 8080},
		Sweeper:  SweeperConfig{Schedule: "0 */5 * * * *"},
		Import: ImportConfig{
			Schedule: "0 */10 * * * *",
			Columns:  importer.DefaultColumns(),
		},
		Charge: ChargeConfig{
			SpecialPattern: inventory.DefaultSpecialPattern,
			SpecialOwner:   inventory.DefaultSpecialOwner,
		},
		Evidence: EvidenceConfig{BaseURL: "/evidence"},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// SetDefaults registers every default with viper so environment variables
// can override keys that are absent from the config file.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("data_dir", defaults.DataDir)

	viper.SetDefault("database.driver", defaults.Database.Driver)
	viper.SetDefault("database.dsn", defaults.Database.DSN)

	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("server.cron_secret", defaults.Server.CronSecret)

	viper.SetDefault("sweeper.schedule", defaults.Sweeper.Schedule)

	viper.SetDefault("import.drop_dir", defaults.Import.DropDir)
	viper.SetDefault("import.schedule", defaults.Import.Schedule)
	viper.SetDefault("import.columns.sku", defaults.Import.Columns.SKU)
	viper.SetDefault("import.columns.warehouse", defaults.Import.Columns.Warehouse)
	viper.SetDefault("import.columns.stock", defaults.Import.Columns.Stock)
	viper.SetDefault("import.columns.pending", defaults.Import.Columns.Pending)
	viper.SetDefault("import.columns.in_transit", defaults.Import.Columns.InTransit)
	viper.SetDefault("import.columns.sales", defaults.Import.Columns.Sales)

	viper.SetDefault("charge.special_pattern", defaults.Charge.SpecialPattern)
	viper.SetDefault("charge.special_owner", defaults.Charge.SpecialOwner)

	viper.SetDefault("webhook.slack_url", defaults.Webhook.SlackURL)
	viper.SetDefault("webhook.discord_url", defaults.Webhook.DiscordURL)

	viper.SetDefault("evidence.dir", defaults.Evidence.Dir)
	viper.SetDefault("evidence.base_url", defaults.Evidence.BaseURL)

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.format", defaults.Log.Format)

	viper.SetDefault("telemetry.enabled", defaults.Telemetry.Enabled)
	viper.SetDefault("telemetry.stdout", defaults.Telemetry.Stdout)
}

// Init wires viper to cfgFile, or to config.yaml in the working directory
// and the default data dir, plus the environment. A missing file is not an
// error; a malformed one is.
func Init(cfgFile string) error {
	// .env is optional
	_ = godotenv.Load()

	SetDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(DefaultDataDir())
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		if cfgFile == "" && os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}

// Load reads the configuration from viper into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.resolvePaths()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

func (c *Config) resolvePaths() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.Evidence.Dir == "" {
		c.Evidence.Dir = filepath.Join(c.DataDir, "evidence")
	}
}

// DatabaseDSN returns the DSN to open, defaulting SQLite into DataDir.
func (c *Config) DatabaseDSN() string {
	if c.Database.DSN != "" || c.Database.Driver != db.SQLite {
		return c.Database.DSN
	}
	return db.SQLiteDSN(filepath.Join(c.DataDir, "slowstock.db"))
}

// Resolver builds the charge resolver from the special-owner settings.
func (c *Config) Resolver() inventory.Resolver {
	return inventory.Resolver{
		SpecialPattern: c.Charge.SpecialPattern,
		SpecialOwner:   c.Charge.SpecialOwner,
	}
}
