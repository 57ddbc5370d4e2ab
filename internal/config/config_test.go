package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseList(t *testing.T) {
	assert.Nil(t, parseList(""))
	assert.Equal(t, []string{"1", "2", "3"}, parseList(" 1, 2 ,,3 "))
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GRADE_LEVELS", "")
	t.Setenv("BILLING_WORKERS", "not-a-number")
	t.Setenv("BASE_CURRENCY", "usd")

	cfg := Load()

	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6", "7"}, cfg.GradeLevels)
	assert.Equal(t, 8, cfg.Billing.Workers)
	assert.Equal(t, "USD", cfg.BaseCurrency)
	assert.Equal(t, 200*time.Millisecond, cfg.Billing.RetryDelay)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "lock:billing:term:42", CacheKey.BillingTermLockKey(42))
	assert.Equal(t, "billing:run:abc:progress", CacheKey.BillingRunProgressChannel("abc"))
}
