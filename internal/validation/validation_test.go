package validation

import (
	"strings"
	"testing"
)

type sample struct {
	Account string `json:"receiver_account" validate:"required,account_number"`
	Email   string `json:"email" validate:"required,email"`
}

func TestAccountNumberTag(t *testing.T) {
	v := New()
	cases := map[string]bool{
		"0123456789":  true,
		"012345678":   false,
		"01234567890": false,
		"01234a6789":  false,
	}
	for account, ok := range cases {
		err := v.Struct(sample{Account: account, Email: "a@b.co"})
		if (err == nil) != ok {
			t.Fatalf("account %q: expected valid=%v, got %v", account, ok, err)
		}
	}
}

func TestMessageUsesJSONNames(t *testing.T) {
	err := New().Struct(sample{})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := Message(err)
	if !strings.Contains(msg, "receiver_account: required") || !strings.Contains(msg, "email: required") {
		t.Fatalf("unexpected message %q", msg)
	}
}
