package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type WorkerConfig struct {
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
	ConverterImage       string        `mapstructure:"converter_image"`
	ScratchDir           string        `mapstructure:"scratch_dir"`
	ContainerCPULimit    int64         `mapstructure:"container_cpu_limit"`
	ContainerMemoryLimit int64         `mapstructure:"container_memory_limit"`
}

type Config struct {
	DatabaseURL string       `mapstructure:"database_url"`
	ServerPort  string       `mapstructure:"server_port"`
	JWTSecret   string       `mapstructure:"jwt_secret"`
	RedisURL    string       `mapstructure:"redis_url"`
	Worker      WorkerConfig `mapstructure:"worker"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}
	if config.Worker.SweepInterval == 0 {
		config.Worker.SweepInterval = 15 * time.Second
	}
	if config.Worker.ConverterImage == "" {
		config.Worker.ConverterImage = "virtshift/qemu-img:latest"
	}
	if config.Worker.ScratchDir == "" {
		config.Worker.ScratchDir = "/var/lib/virtshift/scratch"
	}

	if config.JWTSecret == "" {
		log.Fatal("JWT secret must be set in the config file")
	}

	return &config
}
