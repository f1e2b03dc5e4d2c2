package cachekey

import (
	"testing"
)

func TestComputeKey_Deterministic(t *testing.T) {
	a := ComputeKey("owner-1", "script-1", 3, "To be or not to be", "en-US-Neural2-D", 1.0)
	b := ComputeKey("owner-1", "script-1", 3, "To be or not to be", "en-US-Neural2-D", 1.0)

	if a != b {
		t.Errorf("same inputs produced different keys: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestComputeKey_SensitiveToEveryField(t *testing.T) {
	base := ComputeKey("owner", "script", 1, "hello", "voice", 1.0)

	tests := []struct {
		name string
		key  string
	}{
		{"owner", ComputeKey("owner2", "script", 1, "hello", "voice", 1.0)},
		{"script", ComputeKey("owner", "script2", 1, "hello", "voice", 1.0)},
		{"lineIndex", ComputeKey("owner", "script", 2, "hello", "voice", 1.0)},
		{"text", ComputeKey("owner", "script", 1, "hello!", "voice", 1.0)},
		{"voice", ComputeKey("owner", "script", 1, "hello", "voice2", 1.0)},
		{"speed", ComputeKey("owner", "script", 1, "hello", "voice", 1.25)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.key == base {
				t.Errorf("changing %s did not change the key", tt.name)
			}
		})
	}
}

func TestComputeKey_NoAmbiguousConcatenation(t *testing.T) {
	// "ab"+"c" and "a"+"bc" across adjacent fields must not collide.
	k1 := ComputeKey("ab", "c", 0, "x", "v", 1)
	k2 := ComputeKey("a", "bc", 0, "x", "v", 1)
	if k1 == k2 {
		t.Error("owner/script boundary is ambiguous")
	}

	k3 := ComputeKey("o", "s", 0, "text", "voice|1.00", 1)
	k4 := ComputeKey("o", "s", 0, "text|voice", "1.00", 1)
	if k3 == k4 {
		t.Error("text/voice boundary is ambiguous")
	}
}

func TestComputeKey_SpeedFormattingDrift(t *testing.T) {
	a := ComputeKey("o", "s", 0, "line", "v", 1)
	b := ComputeKey("o", "s", 0, "line", "v", 1.0000001)
	c := ComputeKey("o", "s", 0, "line", "v", 0.9999999)
	if a != b || a != c {
		t.Error("equivalent speeds produced different keys")
	}
}

func TestComputeKey_UnicodeNormalization(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"
	if ComputeKey("o", "s", 0, composed, "v", 1) != ComputeKey("o", "s", 0, decomposed, "v", 1) {
		t.Error("NFC-equivalent text produced different keys")
	}
}

func TestNormalizeSpeed(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1, "1.000"},
		{1.0, "1.000"},
		{0.25, "0.250"},
		{1.2346, "1.235"},
		{4, "4.000"},
		{-0.0, "0.000"},
	}
	for _, tt := range tests {
		if got := NormalizeSpeed(tt.in); got != tt.want {
			t.Errorf("NormalizeSpeed(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrefix(t *testing.T) {
	key := ComputeKey("o", "s", 0, "line", "v", 1)
	if got := Prefix(key); got != key[:PrefixLen] {
		t.Errorf("Prefix = %q", got)
	}
	if got := Prefix("abc"); got != "abc" {
		t.Errorf("Prefix(short) = %q", got)
	}
}
