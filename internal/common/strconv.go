package common

import (
	"strconv"
	"strings"
)

// AtoiDefault parses value as an int, returning def when it is empty or malformed.
func AtoiDefault(value string, def int) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
