package contracts

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxContentLength is counted in characters after NFC normalisation.
const MaxContentLength = 500

var ErrContentRequired = errors.New("content is required")
var ErrContentTooLong = errors.New("content must be at most 500 characters")

// NormalizeContent trims and NFC-normalises prayer text and checks its length.
func NormalizeContent(content string) (string, error) {
	content = strings.TrimSpace(norm.NFC.String(content))
	if content == "" {
		return "", ErrContentRequired
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return content, nil
}
