package texts

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"clipfactory/pkg/util"

	"github.com/samber/lo"
	"github.com/texttheater/golang-levenshtein/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	hashtagStrip = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
	slugStrip    = regexp.MustCompile(`[^a-z0-9]+`)
)

// NormalizeHashtags strips everything but letters, digits and underscores,
// lowercases, drops banned and duplicate tags, caps the list at max and pads
// it to three from the fallback pool. Short clips get the shorts tag first.
func NormalizeHashtags(raw []string, cfg Config, clipDuration float64) []string {
	cfg = cfg.normalized()
	banned := lo.Map(cfg.BannedHashtags, func(s string, _ int) string { return strings.ToLower(s) })

	var tags []string
	for _, tag := range raw {
		tag = strings.ToLower(hashtagStrip.ReplaceAllString(tag, ""))
		if tag == "" || lo.Contains(banned, tag) || lo.Contains(tags, tag) {
			continue
		}
		tags = append(tags, tag)
	}
	if len(tags) > cfg.MaxHashtags {
		tags = tags[:cfg.MaxHashtags]
	}
	for _, fallback := range cfg.FallbackHashtags {
		if len(tags) >= minHashtags {
			break
		}
		if !lo.Contains(tags, fallback) {
			tags = append(tags, fallback)
		}
	}

	if clipDuration > 0 && clipDuration <= cfg.ShortsMaxDuration && !lo.Contains(tags, cfg.ShortsTag) {
		tags = append([]string{cfg.ShortsTag}, tags...)
		if len(tags) > cfg.MaxHashtags {
			tags = tags[:cfg.MaxHashtags]
		}
	}
	return tags
}

// Slugify folds accents, lowercases and joins alphanumeric runs with '-',
// cutting at a dash so the result stays within max characters.
func Slugify(s string, max int) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	slug := strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(folded), "-"), "-")
	if len(slug) <= max {
		return slug
	}
	cut := strings.LastIndex(slug[:max+1], "-")
	if cut <= 0 {
		return strings.Trim(slug[:max], "-")
	}
	return slug[:cut]
}

// SoftTruncateWords keeps whole sentences while the word count stays within
// max. Paragraph breaks survive. A first sentence that is already too long
// is cut at a word instead.
func SoftTruncateWords(text string, max int) string {
	text = strings.TrimSpace(text)
	if util.CountWords(text) <= max {
		return text
	}
	var paragraphs []string
	words := 0
	for _, paragraph := range strings.Split(text, "\n\n") {
		var kept []string
		full := true
		for _, sentence := range util.SplitSentences(paragraph) {
			n := util.CountWords(sentence)
			if words+n > max {
				full = false
				break
			}
			kept = append(kept, sentence)
			words += n
		}
		if len(kept) > 0 {
			paragraphs = append(paragraphs, strings.Join(kept, " "))
		}
		if !full {
			break
		}
	}
	if len(paragraphs) == 0 {
		return strings.Join(strings.Fields(text)[:max], " ")
	}
	return strings.Join(paragraphs, "\n\n")
}

// MarkDuplicateTitles appends "(Part N)" to titles that are near-duplicates
// of one another. Parts are numbered in clip order within each group.
func MarkDuplicateTitles(titles []string, ratio float64, maxChars int) []string {
	group := make([]int, len(titles))
	for i := range titles {
		group[i] = i
		for j := 0; j < i; j++ {
			if group[j] != j {
				continue
			}
			if titleSimilarity(titles[i], titles[j]) >= ratio {
				group[i] = j
				break
			}
		}
	}
	sizes := map[int]int{}
	for _, g := range group {
		sizes[g]++
	}
	seen := map[int]int{}
	out := make([]string, len(titles))
	for i, title := range titles {
		if sizes[group[i]] < 2 {
			out[i] = title
			continue
		}
		seen[group[i]]++
		suffix := fmt.Sprintf(" (Part %d)", seen[group[i]])
		out[i] = util.TruncateAtWord(title, maxChars-len([]rune(suffix))) + suffix
	}
	return out
}

func titleSimilarity(a, b string) float64 {
	return levenshtein.RatioForStrings([]rune(strings.ToLower(a)), []rune(strings.ToLower(b)), levenshtein.DefaultOptions)
}
