package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/linkshield/cloaker/internal/logger"
	"github.com/linkshield/cloaker/internal/tracing"
)

type Config struct {
	AppConfig             *AppConfig
	Logger                *logger.Config
	Tracing               *tracing.JaegerConfig
	CloakerDatabaseConfig *CloakerDatabaseConfig
	GeoIPConfig           *GeoIPConfig
	WebhookConfig         *WebhookConfig
	DomainConfig          *DomainConfig
	ArchiveConfig         *ArchiveConfig
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:             &AppConfig{},
		Logger:                &logger.Config{},
		Tracing:               &tracing.JaegerConfig{},
		CloakerDatabaseConfig: &CloakerDatabaseConfig{},
		GeoIPConfig:           &GeoIPConfig{},
		WebhookConfig:         &WebhookConfig{},
		DomainConfig:          &DomainConfig{},
		ArchiveConfig:         &ArchiveConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading cloaker config: %v", err)
	}

	return config, nil
}
