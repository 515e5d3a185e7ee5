package auth

import (
	"strings"
	"testing"
)

func TestHashKey(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty string", "", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"whitespace only", "   ", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"abc", "abc", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashKey(tt.input); got != tt.want {
				t.Errorf("HashKey(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestHashKey_TrimsWhitespace(t *testing.T) {
	if HashKey("  pp_key\n") != HashKey("pp_key") {
		t.Error("surrounding whitespace changed the hash")
	}
	if HashKey("pp_key1") == HashKey("pp_key2") {
		t.Error("different keys produced the same hash")
	}
}

func TestGenerateKey(t *testing.T) {
	a, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	b, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	if !strings.HasPrefix(a, KeyPrefix) {
		t.Errorf("key %q lacks prefix %q", a, KeyPrefix)
	}
	if len(a) != len(KeyPrefix)+64 {
		t.Errorf("key length %d, want %d", len(a), len(KeyPrefix)+64)
	}
	if a == b {
		t.Error("two generated keys are equal")
	}
}
