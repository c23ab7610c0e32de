package newsletter

import "unicode/utf8"

// DescriptionLength is the number of content characters kept in a derived description.
const DescriptionLength = 200

// DeriveDescription returns the first DescriptionLength characters of content followed
// by "...", or nil when content is nil or empty.
func DeriveDescription(content *string) *string {
	if content == nil || *content == "" {
		return nil
	}
	text := *content
	if utf8.RuneCountInString(text) > DescriptionLength {
		runes := []rune(text)
		text = string(runes[:DescriptionLength])
	}
	text += "..."
	return &text
}

// StringPtr returns nil for empty strings and a pointer otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
