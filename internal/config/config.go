package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rongwang/fundchain-server/internal/notify"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	GatewayHTTP = "http"
	GatewayStub = "stub"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig      `yaml:"server"`
	Database DatabaseConfig    `yaml:"database"`
	Auth     AuthConfig        `yaml:"auth"`
	Gateway  GatewayConfig     `yaml:"gateway"`
	Nats     notify.NatsConfig `yaml:"nats"`
	Log      LogConfig         `yaml:"log"`
	Engine   EngineConfig      `yaml:"engine"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	DBName       string `yaml:"db_name"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// AuthConfig holds the authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// StaffRoles lists the role claim values allowed to approve, mint and burn
	StaffRoles []string `yaml:"staff_roles"`
	// IssuerRoles lists the role claim values allowed to use the issuer endpoints
	IssuerRoles []string `yaml:"issuer_roles"`
}

// GatewayConfig holds the blockchain gateway configuration
type GatewayConfig struct {
	Driver  string        `yaml:"driver"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EngineConfig tunes the transaction engine
type EngineConfig struct {
	RevalidateOnConfirm    bool    `yaml:"revalidate_on_confirm"`
	OrgWalletCurrency      string  `yaml:"org_wallet_currency"`
	BroadcastRatePerSecond float64 `yaml:"broadcast_rate_per_second"`
	BroadcastBurst         int     `yaml:"broadcast_burst"`
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.DBName, c.SSLMode,
	)
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       DriverPostgres,
			Host:         "localhost",
			Port:         5432,
			Username:     "postgres",
			Password:     "password",
			DBName:       "fundchain",
			SSLMode:      "disable",
			MaxOpenConns: 25,
		},
		Auth: AuthConfig{
			JWTSecret:   "your-secret-key-here",
			StaffRoles:  []string{"admin", "staff"},
			IssuerRoles: []string{"issuer"},
		},
		Gateway: GatewayConfig{
			Driver:  GatewayHTTP,
			BaseURL: "http://localhost:3000",
			Timeout: 30 * time.Second,
		},
		Nats: notify.NatsConfig{
			Name:    "fundchain-server",
			Subject: "fundchain.settlement",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Engine: EngineConfig{
			RevalidateOnConfirm:    true,
			OrgWalletCurrency:      "EUR",
			BroadcastRatePerSecond: 1,
			BroadcastBurst:         3,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file at
// path and finally environment variables (a .env file in the working directory
// is loaded first if present)
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvAsInt("SERVER_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvAsDuration("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.ShutdownTimeout = getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Database.Driver = getEnv("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvAsInt("DB_PORT", cfg.Database.Port)
	cfg.Database.Username = getEnv("DB_USERNAME", cfg.Database.Username)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = getEnv("DB_NAME", cfg.Database.DBName)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.StaffRoles = getEnvAsList("AUTH_STAFF_ROLES", cfg.Auth.StaffRoles)
	cfg.Auth.IssuerRoles = getEnvAsList("AUTH_ISSUER_ROLES", cfg.Auth.IssuerRoles)

	cfg.Gateway.Driver = getEnv("GATEWAY_DRIVER", cfg.Gateway.Driver)
	cfg.Gateway.BaseURL = getEnv("GATEWAY_URL", cfg.Gateway.BaseURL)
	cfg.Gateway.APIKey = getEnv("GATEWAY_API_KEY", cfg.Gateway.APIKey)
	cfg.Gateway.Timeout = getEnvAsDuration("GATEWAY_TIMEOUT", cfg.Gateway.Timeout)

	cfg.Nats.Address = getEnv("NATS_ADDRESS", cfg.Nats.Address)
	cfg.Nats.Name = getEnv("NATS_CLIENT_NAME", cfg.Nats.Name)
	cfg.Nats.Token = getEnv("NATS_TOKEN", cfg.Nats.Token)
	cfg.Nats.Subject = getEnv("NATS_SUBJECT", cfg.Nats.Subject)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Engine.RevalidateOnConfirm = getEnvAsBool("ENGINE_REVALIDATE_ON_CONFIRM", cfg.Engine.RevalidateOnConfirm)
	cfg.Engine.OrgWalletCurrency = getEnv("ENGINE_ORG_WALLET_CURRENCY", cfg.Engine.OrgWalletCurrency)
	cfg.Engine.BroadcastRatePerSecond = getEnvAsFloat("ENGINE_BROADCAST_RATE", cfg.Engine.BroadcastRatePerSecond)
	cfg.Engine.BroadcastBurst = getEnvAsInt("ENGINE_BROADCAST_BURST", cfg.Engine.BroadcastBurst)
}

// Validate reports the first setting that cannot work
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Gateway.Driver {
	case GatewayHTTP, GatewayStub:
	default:
		return fmt.Errorf("unknown gateway driver %q", c.Gateway.Driver)
	}
	if c.Gateway.Driver == GatewayHTTP && c.Gateway.BaseURL == "" {
		return errors.New("gateway base url is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret is required")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}
