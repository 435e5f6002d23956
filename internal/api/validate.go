package api

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxTextLen bounds text sent to the generator or synthesizer from the test
// endpoints. Synthesis is billed per character.
const maxTextLen = 2000

// maxURLLen is the maximum length for URL fields.
const maxURLLen = 2048

// phoneRe accepts E.164 numbers and national numbers with a leading zero,
// the two forms Twilio and Exotel take.
var phoneRe = regexp.MustCompile(`^(\+[1-9]\d{6,14}|0\d{6,14})$`)

// validateStringLen checks that a string does not exceed maxLen runes.
// Returns an error message if invalid, empty string if OK.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateRequiredText checks a required free-text field.
func validateRequiredText(field, value string, maxLen int) string {
	if strings.TrimSpace(value) == "" {
		return field + " is required"
	}
	if msg := validateStringLen(field, value, maxLen); msg != "" {
		return msg
	}
	return validateNoControlChars(field, value)
}

// validateAudioURL checks that value is an absolute http(s) URL.
func validateAudioURL(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if len(value) > maxURLLen {
		return field + " exceeds maximum length"
	}
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return field + " must be an absolute http or https url"
	}
	return ""
}

// validatePhoneNumber checks that value looks like a dialable number.
func validatePhoneNumber(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if !phoneRe.MatchString(value) {
		return field + " is not a valid phone number"
	}
	return ""
}

// containsControlChars checks whether a string has control characters
// (except common whitespace like \n, \r, \t).
func containsControlChars(s string) bool {
	for _, r := range s {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return true
		}
	}
	return false
}

// validateNoControlChars rejects strings with control characters.
func validateNoControlChars(field, value string) string {
	if containsControlChars(value) {
		return field + " contains invalid characters"
	}
	return ""
}
