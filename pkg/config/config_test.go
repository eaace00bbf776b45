package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.DatabaseConnectRetryCount)
	assert.Equal(t, 2*time.Second, cfg.DatabaseConnectRetryDelay)
	assert.Equal(t, 3, cfg.DatabaseMaxRetries)
	assert.Equal(t, 21, cfg.LoanPeriodDays)
	assert.Equal(t, int64(50), cfg.OverdueFineCentsPerDay)
	assert.Equal(t, int64(2500), cfg.LostBookFeeCents)
	assert.Equal(t, 3, cfg.ReservationPickupDays)
	assert.False(t, cfg.DatabaseDebug)
}

func TestNew_Development(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")

	cfg, err := New()
	require.NoError(t, err)

	assert.True(t, cfg.DatabaseDebug)
	assert.Equal(t, "./tmp/data.sqlite", cfg.DatabaseFilePath)
}

func TestNewForTest(t *testing.T) {
	cfg := NewForTest()
	assert.Equal(t, ":memory:", cfg.DatabaseFilePath)
	assert.Equal(t, "test", cfg.Hostname)
	assert.Positive(t, cfg.MaxOpenLoansPerMember)
	assert.Positive(t, cfg.MaxReservationsPerMember)
}
