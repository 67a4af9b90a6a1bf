package env

import (
	"testing"
	"time"
)

func TestStringDefault(t *testing.T) {
	if got := String("PORTAL_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("PORTAL_TEST_SET", "value")
	if got := String("PORTAL_TEST_SET", "fallback"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
}

func TestRequire(t *testing.T) {
	if _, err := Require("PORTAL_TEST_MISSING"); err == nil {
		t.Fatalf("expected error for missing key")
	}
	t.Setenv("PORTAL_TEST_PRESENT", "secret")
	got, err := Require("PORTAL_TEST_PRESENT")
	if err != nil || got != "secret" {
		t.Fatalf("expected secret, got %q err %v", got, err)
	}
}

func TestDurationParse(t *testing.T) {
	t.Setenv("PORTAL_TEST_DURATION", "90s")
	d, err := Duration("PORTAL_TEST_DURATION", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 90*time.Second {
		t.Fatalf("expected 90s, got %s", d)
	}

	t.Setenv("PORTAL_TEST_DURATION", "not-a-duration")
	if _, err := Duration("PORTAL_TEST_DURATION", time.Second); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestIntAndBool(t *testing.T) {
	t.Setenv("PORTAL_TEST_INT", "42")
	i, err := Int("PORTAL_TEST_INT", 1)
	if err != nil || i != 42 {
		t.Fatalf("expected 42, got %d err %v", i, err)
	}

	t.Setenv("PORTAL_TEST_BOOL", "true")
	b, err := Bool("PORTAL_TEST_BOOL", false)
	if err != nil || !b {
		t.Fatalf("expected true, got %v err %v", b, err)
	}
}
