package app

import "testing"

func TestEnvString_DefaultsWhenUnset(t *testing.T) {
	if got := EnvString("CHAT_TEST_UNSET_STRING", "fallback"); got != "fallback" {
		t.Fatalf("want fallback, got %q", got)
	}
}

func TestEnvBool_ParsesAndDefaults(t *testing.T) {
	t.Setenv("CHAT_TEST_BOOL", "false")
	if got := EnvBool("CHAT_TEST_BOOL", true); got != false {
		t.Fatalf("want false, got %v", got)
	}
	if got := EnvBool("CHAT_TEST_BOOL_UNSET", true); got != true {
		t.Fatalf("want default true, got %v", got)
	}
}

func TestEnvInt_RejectsNonPositive(t *testing.T) {
	t.Setenv("CHAT_TEST_INT", "-5")
	if got := EnvInt("CHAT_TEST_INT", 42); got != 42 {
		t.Fatalf("want default 42 for a non-positive override, got %d", got)
	}
	t.Setenv("CHAT_TEST_INT", "7")
	if got := EnvInt("CHAT_TEST_INT", 42); got != 7 {
		t.Fatalf("want 7, got %d", got)
	}
}

func TestEnvDuration_InterpretsSeconds(t *testing.T) {
	t.Setenv("CHAT_TEST_DURATION", "30")
	got := EnvDuration("CHAT_TEST_DURATION", 0)
	if got.Seconds() != 30 {
		t.Fatalf("want 30s, got %v", got)
	}
}

func TestEnvStringSlice_SplitsOnComma(t *testing.T) {
	t.Setenv("CHAT_TEST_ORIGINS", "https://a.example, https://b.example")
	got := EnvStringSlice("CHAT_TEST_ORIGINS", nil)
	want := []string{"https://a.example", "https://b.example"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("want %v, got %v", want, got)
	}
}
