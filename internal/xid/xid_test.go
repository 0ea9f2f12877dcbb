package xid

import (
	"strings"
	"testing"
	"time"
)

func TestNewUsesPrefix(t *testing.T) {
	id := New("sale")
	if !strings.HasPrefix(id, "sale-") {
		t.Fatalf("expected sale- prefix, got %s", id)
	}
	if New("sale") == id {
		t.Fatalf("expected unique ids")
	}
}

func TestTokenIsOpaque(t *testing.T) {
	token := Token()
	if len(token) != 32 || strings.Contains(token, "-") {
		t.Fatalf("unexpected token %q", token)
	}
}

func TestNumberFormat(t *testing.T) {
	at := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	number := Number("SL", at)
	if !strings.HasPrefix(number, "SL-20260105-") || len(number) != len("SL-20260105-")+6 {
		t.Fatalf("unexpected number %q", number)
	}
}
