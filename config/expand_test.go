package config

import (
	"strings"
	"testing"
)

func TestExpandEnvStrict(t *testing.T) {
	t.Setenv("UDFCACHE_TEST_DIR", "/data")

	tests := []struct {
		in   string
		want string
	}{
		{"cache.db", "cache.db"},
		{"${UDFCACHE_TEST_DIR}/cache.db", "/data/cache.db"},
		{"$UDFCACHE_TEST_DIR/cache.db", "/data/cache.db"},
		{"file:cache.db?cost=$$5", "file:cache.db?cost=$5"},
	}
	for _, tt := range tests {
		got, err := ExpandEnvStrict(tt.in)
		if err != nil {
			t.Fatalf("ExpandEnvStrict(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ExpandEnvStrict(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExpandEnvStrict_MissingListsEveryVariable(t *testing.T) {
	_, err := ExpandEnvStrict("${UDFCACHE_TEST_B}/${UDFCACHE_TEST_A}/${UDFCACHE_TEST_B}")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.HasSuffix(err.Error(), "UDFCACHE_TEST_A, UDFCACHE_TEST_B") {
		t.Errorf("error = %v", err)
	}
}
