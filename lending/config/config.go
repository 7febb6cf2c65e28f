package config

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Astemirdum/lending-service/pkg/kafka"
	"github.com/Astemirdum/lending-service/pkg/logger"
	"github.com/Astemirdum/lending-service/pkg/postgres"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type HTTPServer struct {
	Host         string        `yaml:"host" envconfig:"LENDING_HTTP_HOST" default:"0.0.0.0"`
	Port         string        `yaml:"port" envconfig:"LENDING_HTTP_PORT" default:"8080"`
	ReadTimeout  time.Duration `yaml:"readTimeout" envconfig:"HTTP_READ" default:"5s"`
	WriteTimeout time.Duration
}

type Lending struct {
	LoanPeriod     time.Duration   `yaml:"loanPeriod" envconfig:"LOAN_PERIOD" default:"168h"`
	FinePerDay     decimal.Decimal `yaml:"finePerDay" envconfig:"FINE_PER_DAY" default:"1"`
	NotifyInterval time.Duration   `yaml:"notifyInterval" envconfig:"NOTIFY_INTERVAL" default:"1m"`
	NotifyGrace    time.Duration   `yaml:"notifyGrace" envconfig:"NOTIFY_GRACE" default:"24h"`
	RemindersTopic string          `yaml:"remindersTopic" envconfig:"NOTIFY_TOPIC" default:"lending.reminders"`
}

type Config struct {
	Server   HTTPServer `yaml:"server"`
	Database postgres.Config
	Kafka    kafka.Config
	Lending  Lending
	Log      logger.Log `yaml:"log"`
}

var (
	once sync.Once
	cfg  Config
)

// NewConfig reads config from environment.
func NewConfig(ops ...Option) *Config {
	once.Do(func() {
		var config Config
		for _, op := range ops {
			op(&config)
		}
		err := envconfig.Process("", &config)
		if err != nil {
			log.Fatal("NewConfig ", err)
		}
		cfg = config
		printConfig(cfg)
	})

	return &cfg
}

func printConfig(cfg Config) {
	jscfg, _ := json.MarshalIndent(cfg, "", "	") //nolint:errcheck
	fmt.Println(string(jscfg))
}
