package share

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Object metadata keys written on publish.
const (
	MetaTitle     = "title"
	MetaAuthor    = "author"
	MetaSourceURL = "source-url"
	MetaDuration  = "duration"
	MetaCreatedAt = "created-at"
	MetaExpiresAt = "expires-at"
)

// MaxMetadataValue bounds a single metadata value in bytes.
const MaxMetadataValue = 1024

const textPrefix = "b64:"

// EncodeText makes arbitrary UTF-8 safe for object metadata headers, which
// only carry ASCII. The result is at most MaxMetadataValue bytes; the input
// is shortened on a rune boundary when needed.
func EncodeText(s string) string {
	if s == "" {
		return ""
	}
	budget := base64.RawURLEncoding.DecodedLen(MaxMetadataValue - len(textPrefix))
	if len(s) > budget {
		s = truncateUTF8(s, budget)
	}
	return textPrefix + base64.RawURLEncoding.EncodeToString([]byte(s))
}

// DecodeText reverses EncodeText. Values without the prefix, or that fail to
// decode, are returned unchanged.
func DecodeText(s string) string {
	rest, ok := strings.CutPrefix(s, textPrefix)
	if !ok {
		return s
	}
	b, err := base64.RawURLEncoding.DecodeString(rest)
	if err != nil || !utf8.Valid(b) {
		return s
	}
	return string(b)
}

// truncateUTF8 returns the longest prefix of s that is at most n bytes and
// ends on a rune boundary.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// asciiValue bounds a plain ASCII value such as a URL.
func asciiValue(s string) string {
	if len(s) > MaxMetadataValue {
		return s[:MaxMetadataValue]
	}
	return s
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func encodeMetadata(m Metadata, createdAt, expiresAt time.Time) map[string]string {
	source := m.SourceURL
	if isASCII(source) {
		source = asciiValue(source)
	} else {
		source = EncodeText(source)
	}
	return map[string]string{
		MetaTitle:     EncodeText(m.Title),
		MetaAuthor:    EncodeText(m.Author),
		MetaSourceURL: source,
		MetaDuration:  strconv.FormatFloat(m.Duration, 'f', -1, 64),
		MetaCreatedAt: createdAt.UTC().Format(time.RFC3339),
		MetaExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ExpiresAt returns the expiry recorded in object metadata, or the zero
// time when none is recorded.
func ExpiresAt(meta map[string]string) time.Time {
	return parseTime(meta[MetaExpiresAt])
}
