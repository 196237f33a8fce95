package utils

import (
	"os"
	"testing"
	"time"
)

func TestShortID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"UUID", "3f2b6c1e-8d4a-4f7e-9b1c-2a5d6e7f8a9b", "3f2b6c1e"},
		{"NoHyphen", "operator", "operator"},
		{"Empty", "", ""},
		{"LeadingHyphen", "-abc", "-abc"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if result := ShortID(tc.input); result != tc.expected {
				t.Errorf("ShortID(%q) = %q, expected %q", tc.input, result, tc.expected)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Duration
		expected string
	}{
		{"Minutes", 45 * time.Minute, "45m"},
		{"HoursAndMinutes", 65 * time.Minute, "1h05m"},
		{"RoundsSeconds", 29*time.Minute + 40*time.Second, "30m"},
		{"Zero", 0, "0m"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if result := FormatDuration(tc.input); result != tc.expected {
				t.Errorf("FormatDuration(%v) = %q, expected %q", tc.input, result, tc.expected)
			}
		})
	}
}

func TestAgo(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		input    time.Time
		expected string
	}{
		{"JustNow", now.Add(-10 * time.Second), "just now"},
		{"Minutes", now.Add(-5 * time.Minute), "5m ago"},
		{"Hours", now.Add(-3 * time.Hour), "3h ago"},
		{"Days", now.Add(-50 * time.Hour), "2d ago"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if result := Ago(tc.input, now); result != tc.expected {
				t.Errorf("Ago(%v) = %q, expected %q", tc.input, result, tc.expected)
			}
		})
	}
}

func TestFormatList(t *testing.T) {
	os.Setenv("NO_COLOR", "1")
	defer os.Unsetenv("NO_COLOR")

	got := FormatList([]string{"alice", "bob"})
	want := "\n    - 'alice'\n    - 'bob'\n"
	if got != want {
		t.Errorf("FormatList() = %q, want %q", got, want)
	}
}

func TestPassphraseFromEnv(t *testing.T) {
	t.Setenv("LIFTSOCIAL_TEST_PASSPHRASE", "hunter2")

	got, err := PassphraseFrom("LIFTSOCIAL_TEST_PASSPHRASE", "Passphrase: ")
	if err != nil {
		t.Fatalf("PassphraseFrom() error = %v", err)
	}
	if string(got) != "hunter2" {
		t.Errorf("PassphraseFrom() = %q, want %q", got, "hunter2")
	}
}

func TestReadInputFile(t *testing.T) {
	path := t.TempDir() + "/key.pem"
	if err := os.WriteFile(path, []byte("pem"), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := ReadInput(path)
	if err != nil {
		t.Fatalf("ReadInput() error = %v", err)
	}
	if string(got) != "pem" {
		t.Errorf("ReadInput() = %q, want %q", got, "pem")
	}
	if _, err := ReadInput(path + ".missing"); err == nil {
		t.Error("ReadInput() on missing file should fail")
	}
}
