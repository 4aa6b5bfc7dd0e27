// Package validation checks client-supplied fields before they enter the
// registry or are fanned out to other clients.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxTitleLength    = 200
	MaxUsernameLength = 50
	MaxMessageLength  = 500
)

// Client identifiers are relay- or client-generated, never free-form.
var clientIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateClientID checks an identifier a client claims for itself. Empty is
// allowed, the relay assigns one in that case.
func ValidateClientID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > 64 {
		return fmt.Errorf("client id too long (max 64 characters)")
	}
	if !clientIDRegex.MatchString(id) {
		return fmt.Errorf("client id contains invalid characters")
	}
	return nil
}

// ValidateTitle checks a stream title. Empty titles are allowed.
func ValidateTitle(title string) error {
	if !utf8.ValidString(title) {
		return fmt.Errorf("title is not valid UTF-8")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return fmt.Errorf("title too long (max %d characters)", MaxTitleLength)
	}
	return nil
}

// ValidateChatMessage checks a chat message and its username.
func ValidateChatMessage(username, message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("message is empty")
	}
	if !utf8.ValidString(message) || !utf8.ValidString(username) {
		return fmt.Errorf("message is not valid UTF-8")
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return fmt.Errorf("message too long (max %d characters)", MaxMessageLength)
	}
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		return fmt.Errorf("username too long (max %d characters)", MaxUsernameLength)
	}
	return nil
}
