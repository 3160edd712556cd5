package util

import (
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?(.*?)```")

// ExtractJsonFromText returns the JSON payload of a model reply: the body of
// the first fenced block, else the span from the first opening bracket to the
// last matching closing one. Text without brackets comes back unchanged.
func ExtractJsonFromText(text string) string {
	if m := fencedJSON.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}

	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return text
	}
	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(text, closer)
	if end <= start {
		return text
	}
	return text[start : end+1]
}
