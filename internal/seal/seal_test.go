package seal

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/jw6ventures/taskcal/internal/apperr"
)

const hexKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestRoundTripBothModes(t *testing.T) {
	plain, err := New("")
	if err != nil {
		t.Fatalf("New plain: %v", err)
	}
	keyed, err := New(hexKey)
	if err != nil {
		t.Fatalf("New keyed: %v", err)
	}

	inputs := []string{"", "ya29.a0AfH6SM", "unicode ✓ ünï", strings.Repeat("x", 4096)}
	for _, s := range []*Sealer{plain, keyed} {
		for _, in := range inputs {
			sealed, err := s.Seal(in)
			if err != nil {
				t.Fatalf("Seal(%q): %v", in, err)
			}
			out, err := s.Open(sealed)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if out != in {
				t.Fatalf("round trip mismatch: got %q want %q", out, in)
			}
		}
	}
}

func TestPlainModeIsTagged(t *testing.T) {
	s, _ := New("")
	sealed, _ := s.Seal("token")
	if sealed != "plain:token" {
		t.Fatalf("expected tagged plaintext, got %q", sealed)
	}
}

func TestEncryptedModeUsesFreshNonce(t *testing.T) {
	s, _ := New(hexKey)
	a, _ := s.Seal("same")
	b, _ := s.Seal("same")
	if a == b {
		t.Fatalf("expected distinct ciphertexts for repeated seals")
	}
	if !strings.HasPrefix(a, "enc:v1:") || strings.Contains(a, "same") {
		t.Fatalf("unexpected sealed form %q", a)
	}
}

func TestPlainValueOpensUnderKeyedSealer(t *testing.T) {
	plain, _ := New("")
	keyed, _ := New(hexKey)

	sealed, _ := plain.Seal("legacy")
	out, err := keyed.Open(sealed)
	if err != nil || out != "legacy" {
		t.Fatalf("expected plain value to open under keyed sealer, got %q, %v", out, err)
	}
}

func TestOpenEncryptedWithoutKeyFails(t *testing.T) {
	keyed, _ := New(hexKey)
	plain, _ := New("")

	sealed, _ := keyed.Seal("secret")
	out, err := plain.Open(sealed)
	if !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if out != "" {
		t.Fatalf("expected no value, got %q", out)
	}
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	keyed, _ := New(hexKey)
	other, _ := New(strings.Repeat("ab", 32))

	sealed, _ := keyed.Seal("secret")
	if _, err := other.Open(sealed); !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestOpenUnknownTagFails(t *testing.T) {
	s, _ := New("")
	if _, err := s.Open("raw-token"); !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestKeyFormats(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	testCases := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "hex", key: hexKey},
		{name: "base64 std", key: base64.StdEncoding.EncodeToString(raw)},
		{name: "base64 raw url", key: base64.RawURLEncoding.EncodeToString(raw)},
		{name: "too short", key: "abcd", wantErr: true},
		{name: "31 bytes", key: base64.StdEncoding.EncodeToString(raw[:31]), wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := New(tc.key)
			if tc.wantErr {
				if !errors.Is(err, apperr.ErrConfiguration) {
					t.Fatalf("expected ConfigurationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if !s.Encrypted() {
				t.Fatalf("expected encrypted mode")
			}
		})
	}
}
