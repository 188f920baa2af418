package secmem

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
)

func TestRevealTrimsPastedKey(t *testing.T) {
	s := NewSecureString("  AIzaSyExample123\n")
	if got := s.Reveal(); got != "AIzaSyExample123" {
		t.Fatalf("Reveal() = %q, want trimmed key", got)
	}
}

func TestRevealOnNilReturnsEmpty(t *testing.T) {
	var s *SecureString
	if got := s.Reveal(); got != "" {
		t.Fatalf("nil Reveal() = %q, want empty", got)
	}
	if !s.IsEmpty() {
		t.Fatal("nil key should be empty")
	}
}

func TestRevealAfterZeroReturnsEmpty(t *testing.T) {
	s := NewSecureString("secret")
	s.Zero()
	if got := s.Reveal(); got != "" {
		t.Fatalf("Reveal() after Zero() = %q, want empty", got)
	}
	if !s.IsZeroed() || !s.IsEmpty() {
		t.Fatal("zeroed key should report zeroed and empty")
	}
	if !s.warnedOnce.Load() {
		t.Fatal("warnedOnce should be set after Reveal post-Zero")
	}
}

func TestIsEmpty(t *testing.T) {
	if !NewSecureString("   ").IsEmpty() {
		t.Fatal("whitespace-only key should be empty")
	}
	if NewSecureString("k").IsEmpty() {
		t.Fatal("non-empty key reported empty")
	}
}

func TestMasked(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "*****"},
		{"AIzaSyABCDEF1234", "AIza********1234"},
	}
	for _, tt := range tests {
		if got := NewSecureString(tt.in).Masked(); got != tt.want {
			t.Errorf("Masked(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatAllVerbsRedacted(t *testing.T) {
	s := NewSecureString("secret")
	for _, format := range []string{"%s", "%v", "%+v", "%#v", "%q"} {
		if got := fmt.Sprintf(format, s); got != "[REDACTED]" {
			t.Errorf("fmt.Sprintf(%q, s) = %q, want [REDACTED]", format, got)
		}
	}
}

func TestMarshalRedacted(t *testing.T) {
	type credentials struct {
		Key   *SecureString `json:"key"`
		Model string        `json:"model"`
	}
	data, err := json.Marshal(credentials{Key: NewSecureString("secret"), Model: "m"})
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if parsed["key"] != "[REDACTED]" {
		t.Fatalf("key in JSON = %v, want [REDACTED]", parsed["key"])
	}

	text, _ := NewSecureString("secret").MarshalText()
	if string(text) != "[REDACTED]" {
		t.Fatalf("MarshalText = %q", text)
	}
}

func TestUnmarshalJSONRejects(t *testing.T) {
	var s SecureString
	if err := json.Unmarshal([]byte(`"should-fail"`), &s); err == nil {
		t.Fatal("UnmarshalJSON should return an error")
	}
}

func TestConcurrentRevealAndZero(t *testing.T) {
	s := NewSecureString("concurrent-test")
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Reveal()
			_ = s.Masked()
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Zero()
	}()
	wg.Wait()

	if got := s.Reveal(); got != "" {
		t.Fatalf("Reveal() after concurrent Zero = %q, want empty", got)
	}
}
