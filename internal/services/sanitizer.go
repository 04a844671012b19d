package services

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/campusbridge/alumni-connect/internal/models"
	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
)

// Message length limits
const (
	DefaultMaxMessageLength = 8000 // Characters for text messages
	MaxAttachmentCaption    = 1000 // Characters for image/file captions
)

// Dangerous patterns for XSS prevention
var (
	scriptTagRegex = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	onEventRegex   = regexp.MustCompile(`(?i)\s+on\w+\s*=`)
)

// SanitizeMessageContent trims and validates message content.
// Rendering clients are expected to escape HTML; only active content is removed here.
func SanitizeMessageContent(content string, kind models.MessageKind, maxLen int) (string, error) {
	if !kind.Valid() {
		return "", apperrors.Validation("Invalid message type")
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return "", apperrors.Validation("Message content cannot be empty")
	}

	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}
	if kind != models.MessageKindText && maxLen > MaxAttachmentCaption {
		maxLen = MaxAttachmentCaption
	}
	if utf8.RuneCountInString(content) > maxLen {
		return "", apperrors.Validation("Message exceeds maximum length")
	}

	content = scriptTagRegex.ReplaceAllString(content, "")
	content = onEventRegex.ReplaceAllString(content, " ")
	content = strings.TrimSpace(content)

	if content == "" {
		return "", apperrors.Validation("Message cannot be empty after sanitization")
	}
	return content, nil
}

// ParseMessageKind defaults an empty kind to text.
func ParseMessageKind(raw string) models.MessageKind {
	if raw == "" {
		return models.MessageKindText
	}
	return models.MessageKind(strings.ToLower(raw))
}
