package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// BillingTermLockKey returns the lock key held while a term is being billed
func (r *CacheKeyStruct) BillingTermLockKey(termID int) string {
	return fmt.Sprintf("lock:billing:term:%d", termID)
}

// RolloverLockKey returns the lock key held while the academic year rolls over
func (r *CacheKeyStruct) RolloverLockKey() string {
	return "lock:rollover"
}

// BillingRunProgressChannel returns the Redis PubSub channel name for a billing run
func (r *CacheKeyStruct) BillingRunProgressChannel(runID string) string {
	return fmt.Sprintf("billing:run:%s:progress", runID)
}

var CacheKey = NewCacheKeyStruct()
