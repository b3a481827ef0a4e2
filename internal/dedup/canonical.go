package dedup

import (
	"regexp"
	"strings"
)

var (
	hexAddressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{4,}`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Canonicalize reduces formatting noise in a failure detail before hashing.
//
// Rules:
//  1. Memory addresses (0x followed by 4+ hex digits) become "0x?".
//  2. Runs of whitespace, including newlines, collapse to one space.
//  3. Leading and trailing whitespace is removed.
//
// Everything else, including case and numbers, is kept: "disk / at 95%" and
// "disk / at 96%" stay distinct identities.
//
// Examples:
//   - Canonicalize("conn 0xc000123abc closed") → "conn 0x? closed"
//   - Canonicalize("  timeout\n\tafter 3s ") → "timeout after 3s"
func Canonicalize(detail string) string {
	detail = hexAddressPattern.ReplaceAllString(detail, "0x?")
	detail = whitespacePattern.ReplaceAllString(detail, " ")

	return strings.TrimSpace(detail)
}
