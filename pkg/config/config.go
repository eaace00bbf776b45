package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
)

type Config struct {
	DatabaseBusyTimeout       time.Duration
	DatabaseConnectRetryCount int
	DatabaseConnectRetryDelay time.Duration
	DatabaseDebug             bool
	DatabaseFilePath          string
	DatabaseMaxRetries        int
	Hostname                  string

	// Circulation policy.
	LoanPeriodDays           int
	OverdueFineCentsPerDay   int64
	LostBookFeeCents         int64
	ReservationPickupDays    int
	MaxOpenLoansPerMember    int
	MaxReservationsPerMember int
}

const environmentENV = "ENVIRONMENT"

func New() (*Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := &Config{
		DatabaseBusyTimeout:       5 * time.Second,
		DatabaseConnectRetryCount: 5,
		DatabaseConnectRetryDelay: 2 * time.Second,
		DatabaseMaxRetries:        3,
		Hostname:                  hostname,

		LoanPeriodDays:           21,
		OverdueFineCentsPerDay:   50,
		LostBookFeeCents:         2500,
		ReservationPickupDays:    3,
		MaxOpenLoansPerMember:    10,
		MaxReservationsPerMember: 5,
	}

	switch os.Getenv(environmentENV) {
	case "development", "":
		loadDevelopmentConfig(cfg)
	case "test":
		loadTestConfig(cfg)
	case "production":
		loadProductionConfig(cfg)
	}

	return cfg, nil
}

// NewForTest returns a config suitable for tests without consulting the
// environment.
func NewForTest() *Config {
	cfg := &Config{
		DatabaseBusyTimeout:       5 * time.Second,
		DatabaseConnectRetryCount: 1,
		DatabaseConnectRetryDelay: 10 * time.Millisecond,
		DatabaseMaxRetries:        3,
		Hostname:                  "test",

		LoanPeriodDays:           21,
		OverdueFineCentsPerDay:   50,
		LostBookFeeCents:         2500,
		ReservationPickupDays:    3,
		MaxOpenLoansPerMember:    10,
		MaxReservationsPerMember: 5,
	}
	loadTestConfig(cfg)
	return cfg
}
