package domain

import (
	"strings"
	"testing"
)

func TestNotification_Validate(t *testing.T) {
	n := &Notification{RecipientAccountID: "a1", Title: "Hello", Message: "World"}
	if err := n.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if n.Type != TypeGeneral {
		t.Errorf("Type = %q, want default %q", n.Type, TypeGeneral)
	}

	bad := []*Notification{
		{Title: "t", Message: "m"},
		{RecipientAccountID: "a1", Message: "m"},
		{RecipientAccountID: "a1", Title: "t"},
		{RecipientAccountID: "a1", Title: strings.Repeat("x", 201), Message: "m"},
	}
	for i, b := range bad {
		if err := b.Validate(); err == nil {
			t.Errorf("case %d: Validate should fail", i)
		}
	}
}
