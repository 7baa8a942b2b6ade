package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Env         string           `yaml:"env" env:"APP_ENV" env-default:"local"`
	HTTPServer  HTTPServerConfig `yaml:"http_server"`
	PostgresCfg PostgresConfig   `yaml:"postgres"`
	RedisCfg    RedisConfig      `yaml:"redis"`
	NatsCfg     NatsConfig       `yaml:"nats"`
	GatewayCfg  GatewayConfig    `yaml:"gateway"`
	Settlement  SettlementConfig `yaml:"settlement"`
	AdminAPIKey string           `yaml:"admin_api_key" env:"ADMIN_API_KEY"`
}

type HTTPServerConfig struct {
	Address     string        `yaml:"address" env-default:":8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type PostgresConfig struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	Username string `yaml:"username" env:"POSTGRES_USER"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD"`
	Database string `yaml:"database" env:"POSTGRES_DB"`
}

// ConnString builds the pgx connection string.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		p.Username, p.Password, p.Host, p.Port, p.Database)
}

type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Db       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
}

type NatsConfig struct {
	URL string `yaml:"url" env:"NATS_URL" env-default:"nats://localhost:4222"`
}

// GatewayConfig holds the payment-provider credentials. SecretHash is the
// shared secret the provider echoes back in webhook signatures.
type GatewayConfig struct {
	BaseURL    string        `yaml:"base_url" env:"GATEWAY_BASE_URL"`
	SecretKey  string        `yaml:"secret_key" env:"GATEWAY_SECRET_KEY"`
	SecretHash string        `yaml:"secret_hash" env:"GATEWAY_SECRET_HASH"`
	Timeout    time.Duration `yaml:"timeout" env-default:"10s"`
	Currency   string        `yaml:"currency" env-default:"NGN"`
}

type SettlementConfig struct {
	// FeeRate is the fraction of losing stakes the platform retains
	// before the profit pool is distributed.
	FeeRate string `yaml:"fee_rate" env:"SETTLEMENT_FEE_RATE" env-default:"0.1"`
	// LockTTL bounds how long one resolution may hold the market lock.
	LockTTL time.Duration `yaml:"lock_ttl" env-default:"30s"`
}

// Rate parses FeeRate. It panics on malformed config, matching MustLoad.
func (s SettlementConfig) Rate() decimal.Decimal {
	rate, err := decimal.NewFromString(s.FeeRate)
	if err != nil {
		panic("invalid settlement fee_rate " + s.FeeRate)
	}
	return rate
}

func MustLoad() *Config {
	path := fetchConfigPath()
	if path == "" {
		panic("config file is empty")
	}
	return MustLoadByPath(path)
}

func MustLoadByPath(path string) *Config {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file not found " + path)
	}

	var config Config

	if err := cleanenv.ReadConfig(path, &config); err != nil {
		panic("failed to read config " + err.Error())
	}

	return &config
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
