package rerank

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Scripts written without spaces between words. Each rune becomes its own
// token; n-gram matching then recovers multi-character words.
var unsegmentedScripts = []*unicode.RangeTable{
	unicode.Han,
	unicode.Hiragana,
	unicode.Katakana,
	unicode.Thai,
	unicode.Lao,
	unicode.Khmer,
	unicode.Myanmar,
}

// Tokenize splits text into comparable tokens. Text is NFKC-normalized and
// case-folded; runs of letters, digits and combining marks form words in
// space-delimited scripts, runes of unsegmented scripts stand alone, and
// everything else separates tokens.
func Tokenize(text string) []string {
	// A Caser keeps state, so each call gets its own.
	text = cases.Fold().String(norm.NFKC.String(text))

	var (
		tokens []string
		word   strings.Builder
	)
	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}

	for _, r := range text {
		switch {
		case unicode.In(r, unsegmentedScripts...):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r):
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
