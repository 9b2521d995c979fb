package config

import (
	"context"
	"testing"
	"time"
)

// Without a connected client every helper must behave as a cache miss
// or a no-op, never an error. Startup depends on this: handlers run
// before ConnectRedisWithRetry finishes.
func TestRedisHelpersNilSafe(t *testing.T) {
	if rdb != nil {
		t.Skip("redis client connected; nil-safety not testable")
	}

	var dest map[string]int
	hit, err := GetRedisObject("some:key", &dest)
	if err != nil {
		t.Errorf("GetRedisObject: %v", err)
	}
	if hit {
		t.Error("GetRedisObject reported a hit without a client")
	}

	if err := SetRedisObject("some:key", map[string]int{"a": 1}, time.Minute); err != nil {
		t.Errorf("SetRedisObject: %v", err)
	}

	val, exists, err := GetRedisValue("some:key")
	if err != nil || exists || val != "" {
		t.Errorf("GetRedisValue = (%q, %v, %v), want miss", val, exists, err)
	}

	if err := SetRedisValue("some:key", "v", time.Minute); err != nil {
		t.Errorf("SetRedisValue: %v", err)
	}

	entries, err := GetRedisListRange(context.Background(), "some:list", 0, -1)
	if err != nil || len(entries) != 0 {
		t.Errorf("GetRedisListRange = (%v, %v), want empty", entries, err)
	}

	if err := RemoveRedisKey("some:key", "some:list"); err != nil {
		t.Errorf("RemoveRedisKey: %v", err)
	}

	if GetRedisLock() != nil {
		t.Error("GetRedisLock returned a locker without a client")
	}
}
