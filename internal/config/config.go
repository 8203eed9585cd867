package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

type Config struct {
	StoreDriver      string
	SQLitePath       string
	MySQLDSN         string
	RedisAddr        string
	RedisPass        string
	RedisPrefix      string
	HTTPAddr         string
	GRPCAddr         string
	LogLevel         string
	LogFormat        string
	PhoneRegion      string
	LowStockSchedule string
}

// Load reads a .env file when one is present and then the process
// environment. Variables already set in the environment win.
func Load(files ...string) (Config, error) {
	// a missing .env is fine, the environment may be set by other means
	_ = godotenv.Load(files...)

	cfg := Config{
		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
		SQLitePath:       getEnv("SQLITE_PATH", "stockledger.db"),
		MySQLDSN:         getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/stockledger?parseTime=true"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:        getEnv("REDIS_PASS", ""),
		RedisPrefix:      getEnv("REDIS_PREFIX", "stockledger:"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:         getEnv("GRPC_ADDR", ":50051"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
		PhoneRegion:      strings.ToUpper(getEnv("PHONE_REGION", "US")),
		LowStockSchedule: "@every 1h",
	}
	// an explicitly empty schedule disables the alert job
	if v, ok := os.LookupEnv("LOW_STOCK_SCHEDULE"); ok {
		cfg.LowStockSchedule = strings.TrimSpace(v)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite, DriverMySQL, DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.StoreDriver == DriverSQLite && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
	}
	if c.StoreDriver == DriverMySQL && c.MySQLDSN == "" {
		return fmt.Errorf("MYSQL_DSN is required for the mysql driver")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}
