package security

import "testing"

func TestNewOpaqueToken_Unique(t *testing.T) {
	a, err := NewOpaqueToken()
	if err != nil {
		t.Fatalf("NewOpaqueToken: %v", err)
	}
	b, _ := NewOpaqueToken()
	if a == b {
		t.Error("tokens must differ")
	}
	if len(a) != 43 {
		t.Errorf("len = %d, want 43", len(a))
	}
}

func TestHashToken(t *testing.T) {
	h := HashToken("grant-token")
	if len(h) != 64 {
		t.Errorf("hash length = %d, want 64", len(h))
	}
	if HashToken("grant-token") != h {
		t.Error("HashToken must be deterministic")
	}
	if HashToken("other") == h {
		t.Error("different tokens must hash differently")
	}
}

func TestTokenHashEqual(t *testing.T) {
	stored := HashToken("abc")
	if !TokenHashEqual("abc", stored) {
		t.Error("matching token should compare equal")
	}
	if TokenHashEqual("abd", stored) {
		t.Error("wrong token should not compare equal")
	}
	if TokenHashEqual("abc", "") {
		t.Error("empty stored hash should not match")
	}
}
