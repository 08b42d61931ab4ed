package utils

import (
	"strconv"
	"unicode/utf8"
)

// ParseID parses a positive numeric path parameter.
func ParseID(str string) (uint64, bool) {
	val, err := strconv.ParseUint(str, 10, 64)
	if err != nil || val == 0 {
		return 0, false
	}
	return val, true
}

// Truncate shortens s to at most max bytes without splitting a UTF-8 rune.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
