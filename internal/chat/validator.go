package chat

import (
	"unicode/utf8"

	"github.com/fiora/chat-app/internal/apperr"
)

// validateText checks that a text payload meets content requirements.
func validateText(text string, maxChars int) error {
	if len(text) == 0 {
		return apperr.Validation("message content is empty")
	}
	if !utf8.ValidString(text) {
		return apperr.Validation("message contains invalid UTF-8")
	}
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		return apperr.Validation("message exceeds %d character limit", maxChars)
	}
	return nil
}
