package domain

import (
	"testing"
	"time"
)

func TestParsePurpose(t *testing.T) {
	for _, s := range []string{"profile_update", "account_deletion", "rights_transfer", "password_reset"} {
		p, err := ParsePurpose(s)
		if err != nil || string(p) != s {
			t.Errorf("ParsePurpose(%q) = %q, %v", s, p, err)
		}
	}
	if _, err := ParsePurpose("login"); err == nil {
		t.Error("ParsePurpose should reject unknown purposes")
	}
}

func TestChallenge_Expired(t *testing.T) {
	now := time.Now()
	c := &Challenge{ExpiresAt: now}
	if !c.Expired(now) {
		t.Error("challenge is expired at its deadline")
	}
	if c.Expired(now.Add(-time.Second)) {
		t.Error("challenge is live before its deadline")
	}
}
