package domain

import "strings"

// ValidateQuestion rejects questions that are empty after trimming.
// The returned text is the trimmed question.
func ValidateQuestion(q string) (string, error) {
	text := strings.TrimSpace(q)
	if text == "" {
		return "", NewValidationError("question", q, ErrEmptyQuestion)
	}
	return text, nil
}
