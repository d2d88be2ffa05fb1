package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CARRIER_TIMEOUT", "")
	t.Setenv("QUOTE_TTL", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load()
	assert.Equal(t, 6*time.Second, cfg.CarrierTimeout)
	assert.Equal(t, 5*time.Minute, cfg.QuoteTTL)
	assert.Equal(t, time.Minute, cfg.EstimateTTL)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 12, cfg.PollMaxAttempts)
}

func TestLoad_CarrierTimeoutClamped(t *testing.T) {
	t.Setenv("CARRIER_TIMEOUT", "30s")
	assert.Equal(t, 8*time.Second, Load().CarrierTimeout)

	t.Setenv("CARRIER_TIMEOUT", "1s")
	assert.Equal(t, 5*time.Second, Load().CarrierTimeout)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("POLL_MAX_ATTEMPTS", "abc")
	t.Setenv("ESTIMATE_TTL", "-1m")

	cfg := Load()
	assert.Equal(t, 12, cfg.PollMaxAttempts)
	assert.Equal(t, time.Minute, cfg.EstimateTTL)
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a:1", "b:2"}, splitCSV(" a:1, ,b:2 "))
}
