package support

import (
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("SUPPORT_TEST_STRING", "configured")

	if got := GetEnv("SUPPORT_TEST_STRING", "fallback"); got != "configured" {
		t.Fatalf("GetEnv returned %q, want configured", got)
	}
	if got := GetEnv("SUPPORT_TEST_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("GetEnv returned %q, want fallback", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("SUPPORT_TEST_INT", "42")
	t.Setenv("SUPPORT_TEST_INT_BAD", "not a number")

	if got := GetEnvInt("SUPPORT_TEST_INT", 7); got != 42 {
		t.Fatalf("GetEnvInt returned %d, want 42", got)
	}
	if got := GetEnvInt("SUPPORT_TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("GetEnvInt returned %d, want the fallback 7", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("SUPPORT_TEST_BOOL", "false")
	t.Setenv("SUPPORT_TEST_BOOL_BAD", "maybe")

	if GetEnvBool("SUPPORT_TEST_BOOL", true) {
		t.Fatal("GetEnvBool ignored an explicit false")
	}
	if !GetEnvBool("SUPPORT_TEST_BOOL_BAD", true) {
		t.Fatal("GetEnvBool must fall back on an unparseable value")
	}
	if GetEnvBool("SUPPORT_TEST_BOOL_MISSING", false) {
		t.Fatal("GetEnvBool must fall back when unset")
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("SUPPORT_TEST_DURATION", "90s")
	t.Setenv("SUPPORT_TEST_DURATION_BAD", "ninety seconds")

	if got := GetEnvDuration("SUPPORT_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Fatalf("GetEnvDuration returned %s, want 1m30s", got)
	}
	if got := GetEnvDuration("SUPPORT_TEST_DURATION_BAD", 5*time.Second); got != 5*time.Second {
		t.Fatalf("GetEnvDuration returned %s, want the fallback 5s", got)
	}
}
