package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string           `yaml:"env" env-default:"local"`
	Storage    string           `yaml:"storage" env-default:"sqlite"`
	SQLitePath string           `yaml:"sqlite_path"`
	Mongo      MongoConfig      `yaml:"mongo"`
	Auth       AuthConfig       `yaml:"auth"`
	HTTPServer HTTPServerConfig `yaml:"http_server"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" env:"MONGO_URI"`
	Database string `yaml:"database" env-default:"jsondeck"`
}

type AuthConfig struct {
	Secret          string        `yaml:"secret" env:"JWT_SECRET" env-required:"true"`
	RefreshPepper   string        `yaml:"refresh_pepper" env:"REFRESH_PEPPER"`
	Issuer          string        `yaml:"issuer" env-default:"jsondeck"`
	Audience        string        `yaml:"audience" env-default:"jsondeck-api"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env-default:"15m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env-default:"168h"`
}

type HTTPServerConfig struct {
	Address     string        `yaml:"address" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"5s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

func LoadConfig(path string) *Config {
	var cfg Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file not found: " + path)
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		panic("failed to read config: " + err.Error())
	}

	return &cfg
}
