package mfa

import "testing"

func TestGenerateRecoveryCodes(t *testing.T) {
	codes, err := GenerateRecoveryCodes()
	if err != nil {
		t.Fatalf("GenerateRecoveryCodes: %v", err)
	}
	if len(codes) != RecoveryCodeCount {
		t.Fatalf("got %d codes, want %d", len(codes), RecoveryCodeCount)
	}
	seen := make(map[string]bool)
	for _, c := range codes {
		if !LooksLikeRecoveryCode(c) {
			t.Fatalf("generated code %q fails its own shape check", c)
		}
		if seen[c] {
			t.Fatalf("duplicate code in batch: %q", c)
		}
		seen[c] = true
	}
}

func TestHashRecoveryCode(t *testing.T) {
	if HashRecoveryCode("pepper", "abcde-fghij") != HashRecoveryCode("pepper", "abcde-fghij") {
		t.Fatal("same code must hash identically")
	}
	// Normalization: case and whitespace do not change the hash.
	if HashRecoveryCode("pepper", " ABCDE-FGHIJ ") != HashRecoveryCode("pepper", "abcde-fghij") {
		t.Fatal("normalization must fold case and trim whitespace")
	}
	// A different pepper must change the hash, so a leaked DB alone is useless.
	if HashRecoveryCode("pepper-a", "abcde-fghij") == HashRecoveryCode("pepper-b", "abcde-fghij") {
		t.Fatal("pepper must be mixed into the hash")
	}
}

func TestLooksLikeRecoveryCode(t *testing.T) {
	cases := map[string]bool{
		"abcde-fghij":  true,
		" abcde-fghij": true, // trimmed before checking
		"123456":       false,
		"abcdefghijk":  false,
		"abcd-efghij":  false,
		"":             false,
	}
	for code, want := range cases {
		if got := LooksLikeRecoveryCode(code); got != want {
			t.Fatalf("LooksLikeRecoveryCode(%q) = %v, want %v", code, got, want)
		}
	}
}
