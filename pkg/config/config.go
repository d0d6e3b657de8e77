package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DB         *Postgres   `yaml:"database"`
	RMQ        *RabbitMQ   `yaml:"rabbitmq"`
	Redis      *Redis      `yaml:"redis"`
	HTTP       *HTTP       `yaml:"http"`
	Extensions *Extensions `yaml:"extensions"`
}

type Postgres struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type RabbitMQ struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	VHost    string `yaml:"vhost"`
}

type Redis struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type HTTP struct {
	Port string `yaml:"port"`
}

type Extensions struct {
	Dir string `yaml:"dir"`
}

func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadDotEnv() *Config {
	return &Config{
		DB: &Postgres{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			User:     getEnv("POSTGRES_USER", "admin"),
			Password: getEnv("POSTGRES_PASSWORD", "admin"),
			Database: getEnv("POSTGRES_DBNAME", "luna_dine_db"),
		},
		RMQ: &RabbitMQ{
			Host:     getEnv("RABBITMQ_HOST", "localhost"),
			Port:     getEnv("RABBITMQ_PORT_APP", "5672"),
			User:     getEnv("RABBITMQ_USER", "guest"),
			Password: getEnv("RABBITMQ_PASSWORD", "guest"),
			VHost:    getEnv("RABBITMQ_VHOST", "/"),
		},
		Redis: &Redis{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
		HTTP: &HTTP{
			Port: getEnv("HTTP_PORT", "3000"),
		},
		Extensions: &Extensions{
			Dir: getEnv("EXTENSIONS_DIR", "extensions"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
