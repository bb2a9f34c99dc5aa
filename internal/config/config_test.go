package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_KEY", "secret")

	c, err := Load(filepath.Join(t.TempDir(), "missing.env"), nil)
	require.NoError(t, err)
	assert.Equal(t, ":8443", c.Addr)
	assert.Empty(t, c.DSN)
	assert.Equal(t, []string{NotifierLog}, c.Notifiers)
	assert.Equal(t, 5, c.Rules.MaxActiveBorrows)
	assert.Equal(t, 14*24*time.Hour, c.Rules.LoanPeriod)
	assert.Equal(t, time.Hour, c.Policy.Grace)
	assert.True(t, c.Policy.DailyRate.Equal(decimal.NewFromInt(10000)))
}

// unsetenv clears keys for the test and restores them afterwards; values
// loaded from a .env file by godotenv are removed too.
func unsetenv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		prev, had := os.LookupEnv(k)
		require.NoError(t, os.Unsetenv(k))
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(k, prev)
			} else {
				_ = os.Unsetenv(k)
			}
		})
	}
}

func TestLoad_Precedence(t *testing.T) {
	unsetenv(t, "JWT_KEY", "FEE_DAILY")
	env := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(env, []byte("JWT_KEY=from-file\nMAX_ACTIVE_BORROWS=3\nFEE_DAILY=12000\n"), 0o600))
	t.Setenv("MAX_ACTIVE_BORROWS", "4")
	t.Setenv("LENDING_ADDR", ":9000")

	c, err := Load(env, []string{"--addr", ":9443", "--pickup-window", "24h"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", c.JWTKey)
	assert.Equal(t, 4, c.Rules.MaxActiveBorrows)
	assert.True(t, c.Policy.DailyRate.Equal(decimal.NewFromInt(12000)))
	assert.Equal(t, ":9443", c.Addr)
	assert.Equal(t, 24*time.Hour, c.Rules.PickupWindow)
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "missing key"},
		{name: "bad duration", env: map[string]string{"JWT_KEY": "k", "LOAN_PERIOD": "two weeks"}},
		{name: "negative fee", env: map[string]string{"JWT_KEY": "k", "FEE_HOURLY": "-1"}},
		{name: "unknown notifier", env: map[string]string{"JWT_KEY": "k"}, args: []string{"--notifiers", "pigeon"}},
		{name: "sns without topic", env: map[string]string{"JWT_KEY": "k", "NOTIFIERS": "log,sns"}},
		{name: "store without db", env: map[string]string{"JWT_KEY": "k", "NOTIFIERS": "store"}},
		{name: "half tls", env: map[string]string{"JWT_KEY": "k", "TLS_CERT": "cert.pem"}},
		{name: "unknown flag", env: map[string]string{"JWT_KEY": "k"}, args: []string{"--nope"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("JWT_KEY", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load("", tc.args)
			require.Error(t, err)
		})
	}
}

func TestLoad_Brokers(t *testing.T) {
	t.Setenv("JWT_KEY", "k")
	t.Setenv("NOTIFIERS", "kafka, log")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	c, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka", "log"}, c.Notifiers)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
}
