package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type IDType string

const (
	IDTypeChat       IDType = "chat"
	IDTypeMessage    IDType = "msg"
	IDTypeOperator   IDType = "op"
	IDTypeAccount    IDType = "usr"
	IDTypeEscalation IDType = "esc"
)

var validIDTypes = map[IDType]bool{
	IDTypeChat:       true,
	IDTypeMessage:    true,
	IDTypeOperator:   true,
	IDTypeAccount:    true,
	IDTypeEscalation: true,
}

// GenerateID returns a prefixed random identifier, e.g.
// "chat_26b27fd0-4cbb-4e29-a23c-7f0f4a5f6de1".
func GenerateID(idType IDType) (string, error) {
	if !validIDTypes[idType] {
		return "", fmt.Errorf("invalid ID type: %s", idType)
	}
	return fmt.Sprintf("%s_%s", idType, uuid.NewString()), nil
}

// ValidateID reports whether id is a well-formed prefixed identifier.
func ValidateID(id string) bool {
	prefix, rest, ok := strings.Cut(id, "_")
	if !ok || !validIDTypes[IDType(prefix)] {
		return false
	}
	parsed, err := uuid.Parse(rest)
	if err != nil {
		return false
	}
	return parsed.String() == rest
}

// ParseIDType extracts the type prefix from an identifier.
func ParseIDType(id string) (IDType, error) {
	if !ValidateID(id) {
		return "", fmt.Errorf("invalid ID format: %s", id)
	}
	prefix, _, _ := strings.Cut(id, "_")
	return IDType(prefix), nil
}
