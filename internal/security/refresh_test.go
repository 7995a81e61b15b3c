package security

import "testing"

func TestGenerateRefreshTokenUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := GenerateRefreshToken()
		if err != nil {
			t.Fatalf("GenerateRefreshToken: %v", err)
		}
		if len(tok) < 40 {
			t.Fatalf("token too short: %q", tok)
		}
		if seen[tok] {
			t.Fatalf("duplicate token generated: %q", tok)
		}
		seen[tok] = true
	}
}

func TestHashRefreshTokenDeterministic(t *testing.T) {
	if HashRefreshToken("abc") != HashRefreshToken("abc") {
		t.Fatal("same token must hash identically")
	}
	if HashRefreshToken("abc") == HashRefreshToken("abd") {
		t.Fatal("different tokens must hash differently")
	}
	if got := len(HashRefreshToken("abc")); got != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", got)
	}
}

func TestRefreshTokenHashEqual(t *testing.T) {
	tok, err := GenerateRefreshToken()
	if err != nil {
		t.Fatal(err)
	}
	stored := HashRefreshToken(tok)
	if !RefreshTokenHashEqual(tok, stored) {
		t.Fatal("matching token rejected")
	}
	if RefreshTokenHashEqual("other", stored) {
		t.Fatal("non-matching token accepted")
	}
}
