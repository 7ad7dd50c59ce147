package internal

import (
	"strings"
	"testing"
)

func TestSessionIDRoundTrip(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		sid, err := NewSessionID()
		if err != nil {
			t.Fatalf("NewSessionID: %v", err)
		}
		s := sid.String()
		if len(s) != 22 {
			t.Fatalf("expected 22-char id, got %q", s)
		}
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate session id %q", s)
		}
		seen[s] = struct{}{}

		parsed, err := ParseSessionID(s)
		if err != nil {
			t.Fatalf("ParseSessionID(%q): %v", s, err)
		}
		if parsed != sid {
			t.Fatalf("round trip mismatch for %q", s)
		}
	}
}

func TestParseSessionIDRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "abc", "!!!not-base64!!!", strings.Repeat("A", 43)} {
		if _, err := ParseSessionID(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestDeviceFingerprintKeepsPositions(t *testing.T) {
	a := DeviceFingerprint("ua", "", "en-US")
	b := DeviceFingerprint("ua", "en-US", "")
	if a == b {
		t.Fatal("fingerprints must depend on field position")
	}
	if a != DeviceFingerprint("ua", "", "en-US") {
		t.Fatal("fingerprint must be deterministic")
	}
	if len(a) != 64 || strings.ToLower(a) != a {
		t.Fatalf("expected lowercase sha256 hex, got %q", a)
	}
}

func TestDeviceFingerprintSeparatorInField(t *testing.T) {
	cases := [][2][]string{
		{{"a|b", ""}, {"a", "b|"}},
		{{"a|", "b"}, {"a", "|b"}},
		{{"ab", ""}, {"a", "b"}},
		{{"", ""}, {""}},
	}
	for _, c := range cases {
		if DeviceFingerprint(c[0]...) == DeviceFingerprint(c[1]...) {
			t.Fatalf("%q and %q must not collide", c[0], c[1])
		}
	}
}

// FuzzParseSessionID checks that parsing never panics and that accepted
// inputs re-encode to themselves.
func FuzzParseSessionID(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("AAAAAAAAAAAAAAAAAAAAAA")
	f.Add("!!!not-base64!!!")
	if sid, err := NewSessionID(); err == nil {
		f.Add(sid.String())
	}

	f.Fuzz(func(t *testing.T, input string) {
		sid, err := ParseSessionID(input)
		if err != nil {
			return
		}
		if got := sid.String(); got != input {
			t.Fatalf("accepted %q but re-encodes as %q", input, got)
		}
	})
}
