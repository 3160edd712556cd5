package util

import (
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// CountWords counts whitespace-separated tokens.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// TruncateAtWord cuts s to at most n runes without splitting a word. When the
// first word alone exceeds n it falls back to a hard cut.
func TruncateAtWord(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	cut := n
	for cut > 0 && !unicode.IsSpace(runes[cut]) {
		cut--
	}
	if cut == 0 {
		return strings.TrimSpace(string(runes[:n]))
	}
	return strings.TrimRightFunc(string(runes[:cut]), func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == ':' || r == '-'
	})
}

func isSentenceTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

// SentenceEnds returns the rune offsets just past each sentence terminator.
// A run such as "?!" or "..." counts once, at its end.
func SentenceEnds(text string) []int {
	runes := []rune(text)
	var ends []int
	for i, r := range runes {
		if !isSentenceTerminator(r) {
			continue
		}
		if i+1 < len(runes) && isSentenceTerminator(runes[i+1]) {
			continue
		}
		ends = append(ends, i+1)
	}
	return ends
}

// SplitSentences splits text at sentence terminators, keeping them.
func SplitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	prev := 0
	for _, end := range SentenceEnds(text) {
		if sentence := strings.TrimSpace(string(runes[prev:end])); sentence != "" {
			out = append(out, sentence)
		}
		prev = end
	}
	if rest := strings.TrimSpace(string(runes[prev:])); rest != "" {
		out = append(out, rest)
	}
	return out
}

// ContainsAnyFold reports how many of the phrases occur in text as whole
// words, ignoring case. A phrase edge that is punctuation, like "?", needs no
// boundary on that side.
func ContainsAnyFold(text string, phrases []string) int {
	lower := strings.ToLower(text)
	hits := 0
	for _, phrase := range phrases {
		if re := phrasePattern(phrase); re != nil && re.MatchString(lower) {
			hits++
		}
	}
	return hits
}

var phrasePatterns sync.Map

func phrasePattern(phrase string) *regexp.Regexp {
	if re, ok := phrasePatterns.Load(phrase); ok {
		return re.(*regexp.Regexp)
	}
	p := strings.ToLower(strings.TrimSpace(phrase))
	if p == "" {
		return nil
	}
	expr := regexp.QuoteMeta(p)
	if first, _ := utf8.DecodeRuneInString(p); isWordRune(first) {
		expr = `(?:^|[^\pL\pN_])` + expr
	}
	if last, _ := utf8.DecodeLastRuneInString(p); isWordRune(last) {
		expr += `(?:[^\pL\pN_]|$)`
	}
	re := regexp.MustCompile(expr)
	phrasePatterns.Store(phrase, re)
	return re
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
