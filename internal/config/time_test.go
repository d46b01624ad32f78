package config

import (
	"testing"
	"time"
)

func TestCalculateMillisecondsOfTimer(t *testing.T) {
	timer := Timer{Days: 1, Hours: 2, Minutes: 3, Seconds: 4}
	want := uint64((24*60*60 + 2*60*60 + 3*60 + 4) * 1000)

	if got := CalculateMillisecondsOfTimer(timer); got != want {
		t.Fatalf("CalculateMillisecondsOfTimer returned %d, want %d", got, want)
	}
}

func TestCalculateInterval(t *testing.T) {
	t.Run("falls back when timer is zero", func(t *testing.T) {
		if got := calculateInterval(Timer{}, 6*time.Hour); got != 6*time.Hour {
			t.Fatalf("calculateInterval returned %s, want 6h", got)
		}
	})

	t.Run("returns configured duration", func(t *testing.T) {
		if got := calculateInterval(Timer{Minutes: 1, Seconds: 30}, time.Hour); got != 90*time.Second {
			t.Fatalf("calculateInterval returned %s, want 1m30s", got)
		}
	})
}

func TestSetIntervals(t *testing.T) {
	origCfg := GetConfig()
	origCollection := GetCollectionInterval()
	origCleanup := GetCleanupInterval()
	origCollectionListeners := collectionIntervalListeners
	origCleanupListeners := cleanupIntervalListeners

	t.Cleanup(func() {
		configValue.Store(origCfg)
		collectionInterval.Store(origCollection)
		cleanupInterval.Store(origCleanup)
		collectionIntervalListeners = origCollectionListeners
		cleanupIntervalListeners = origCleanupListeners
	})

	testCfg := Config{}
	testCfg.Collector.CollectionTimer = Timer{Hours: 3}
	testCfg.Retention.CleanupTimer = Timer{Hours: 12}

	configValue.Store(testCfg)
	collectionIntervalListeners = nil
	cleanupIntervalListeners = nil

	SetIntervals()

	if got := GetCollectionInterval(); got != 3*time.Hour {
		t.Fatalf("GetCollectionInterval returned %s, want 3h", got)
	}
	if got := GetCleanupInterval(); got != 12*time.Hour {
		t.Fatalf("GetCleanupInterval returned %s, want 12h", got)
	}
}

func TestCollectionIntervalUpdates(t *testing.T) {
	origCollection := GetCollectionInterval()
	origListeners := collectionIntervalListeners

	t.Cleanup(func() {
		collectionInterval.Store(origCollection)
		collectionIntervalListeners = origListeners
	})

	collectionInterval.Store(time.Second)
	collectionIntervalListeners = nil

	ch := CollectionIntervalUpdates()
	first := <-ch
	if first != time.Second {
		t.Fatalf("initial update = %s, want 1s", first)
	}

	setCollectionInterval(5 * time.Second)

	select {
	case next := <-ch:
		if next != 5*time.Second {
			t.Fatalf("next update = %s, want 5s", next)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for interval update")
	}

	// Verify no duplicate notification when same interval is set.
	setCollectionInterval(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("unexpected update when interval unchanged")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRetentionPeriodDefaults(t *testing.T) {
	origCfg := GetConfig()
	t.Cleanup(func() { configValue.Store(origCfg) })

	configValue.Store(Config{})
	if got := RetentionPeriod(); got != 90*24*time.Hour {
		t.Fatalf("RetentionPeriod returned %s, want 90 days", got)
	}
	if got := GracePeriod(); got != 0 {
		t.Fatalf("GracePeriod returned %s, want 0 when unset", got)
	}

	cfg := Config{}
	cfg.Retention.Days = 30
	cfg.Retention.GraceDays = 7
	configValue.Store(cfg)

	if got := RetentionPeriod(); got != 30*24*time.Hour {
		t.Fatalf("RetentionPeriod returned %s, want 30 days", got)
	}
	if got := GracePeriod(); got != 7*24*time.Hour {
		t.Fatalf("GracePeriod returned %s, want 7 days", got)
	}
}

func TestEnabledSources(t *testing.T) {
	origCfg := GetConfig()
	t.Cleanup(func() { configValue.Store(origCfg) })

	cfg := Config{}
	cfg.Collector.Sources = []Source{
		{Name: "regtech", Enabled: true},
		{Name: "secudium", Enabled: false},
	}
	configValue.Store(cfg)

	enabled := EnabledSources()
	if len(enabled) != 1 || enabled[0].Name != "regtech" {
		t.Fatalf("EnabledSources returned %v", enabled)
	}

	if _, found := FindSource("secudium"); !found {
		t.Fatal("FindSource must ignore the enabled flag")
	}
	if _, found := FindSource("missing"); found {
		t.Fatal("FindSource returned a source that does not exist")
	}
}
