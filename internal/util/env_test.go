package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"YES", false, true},
		{" on ", false, true},
		{"1", false, true},
		{"false", true, false},
		{"Off", true, false},
		{"0", true, false},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		t.Setenv("REPLYPIPE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("REPLYPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestFirstEnv(t *testing.T) {
	t.Setenv("REPLYPIPE_TEST_A", "  ")
	t.Setenv("REPLYPIPE_TEST_B", " redis://cache:6379 ")
	v, key := FirstEnv("REPLYPIPE_TEST_MISSING", "REPLYPIPE_TEST_A", "REPLYPIPE_TEST_B")
	if v != "redis://cache:6379" || key != "REPLYPIPE_TEST_B" {
		t.Errorf("FirstEnv = (%q, %q)", v, key)
	}
	if v, key := FirstEnv("REPLYPIPE_TEST_MISSING"); v != "" || key != "" {
		t.Errorf("expected no value, got (%q, %q)", v, key)
	}
}

func TestFillFromEnv(t *testing.T) {
	t.Setenv("REPLYPIPE_TEST_DSN", "postgres://db/replypipe")

	var empty string
	if !FillFromEnv(&empty, "REPLYPIPE_TEST_DSN") || empty != "postgres://db/replypipe" {
		t.Errorf("blank destination not filled: %q", empty)
	}

	set := "file:/var/lib/replypipe/replypipe.db"
	if FillFromEnv(&set, "REPLYPIPE_TEST_DSN") || set != "file:/var/lib/replypipe/replypipe.db" {
		t.Errorf("existing value overwritten: %q", set)
	}

	var none string
	if FillFromEnv(&none, "REPLYPIPE_TEST_MISSING") || none != "" {
		t.Errorf("missing key should leave destination blank: %q", none)
	}
}
