package model

import (
	"strings"
	"testing"
)

func TestGenerateID(t *testing.T) {
	for _, idType := range []IDType{IDTypeChat, IDTypeMessage, IDTypeOperator, IDTypeAccount, IDTypeEscalation} {
		id, err := GenerateID(idType)
		if err != nil {
			t.Fatalf("GenerateID(%q): %v", idType, err)
		}
		if !strings.HasPrefix(id, string(idType)+"_") {
			t.Errorf("id %q missing prefix %q", id, idType)
		}
		if !ValidateID(id) {
			t.Errorf("generated id %q fails validation", id)
		}
	}
}

func TestGenerateIDRejectsUnknownType(t *testing.T) {
	if _, err := GenerateID(IDType("widget")); err == nil {
		t.Error("expected error for unknown ID type")
	}
}

func TestGenerateIDUnique(t *testing.T) {
	seen := make(map[string]bool, 100)
	for i := 0; i < 100; i++ {
		id, err := GenerateID(IDTypeChat)
		if err != nil {
			t.Fatalf("GenerateID: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"chat_26b27fd0-4cbb-4e29-a23c-7f0f4a5f6de1", true},
		{"usr_26b27fd0-4cbb-4e29-a23c-7f0f4a5f6de1", true},
		{"widget_26b27fd0-4cbb-4e29-a23c-7f0f4a5f6de1", false},
		{"chat_not-a-uuid", false},
		{"chat_", false},
		{"no-separator", false},
		{"", false},
		// Parseable but not canonical form.
		{"chat_26B27FD0-4CBB-4E29-A23C-7F0F4A5F6DE1", false},
	}
	for _, tt := range tests {
		if got := ValidateID(tt.id); got != tt.valid {
			t.Errorf("ValidateID(%q) = %v, want %v", tt.id, got, tt.valid)
		}
	}
}

func TestParseIDType(t *testing.T) {
	id, err := GenerateID(IDTypeOperator)
	if err != nil {
		t.Fatalf("GenerateID: %v", err)
	}
	idType, err := ParseIDType(id)
	if err != nil {
		t.Fatalf("ParseIDType: %v", err)
	}
	if idType != IDTypeOperator {
		t.Errorf("ParseIDType(%q) = %q, want %q", id, idType, IDTypeOperator)
	}

	if _, err := ParseIDType("garbage"); err == nil {
		t.Error("expected error for malformed id")
	}
}
