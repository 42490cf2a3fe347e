package rerank

import (
	"math"
	"strings"
)

// maxNGram is the highest n-gram order; each order carries weight 1/maxNGram.
const maxNGram = 4

// minPrecision stands in for an order with no matching n-grams once at least
// one unigram matched, so weak candidates still order by their lower-order
// overlap instead of collapsing to zero.
const minPrecision = 0x1p-1022

// SentenceBLEU scores hypothesis against a single reference with uniform
// 4-gram weights, clipped n-gram precision and the standard brevity penalty.
// The result is in [0, 1]; no unigram overlap scores 0.
func SentenceBLEU(reference, hypothesis []string) float64 {
	if len(hypothesis) == 0 {
		return 0
	}

	var logSum float64
	for n := 1; n <= maxNGram; n++ {
		matched, total := clippedMatches(reference, hypothesis, n)
		if n == 1 && matched == 0 {
			return 0
		}
		p := minPrecision
		if matched > 0 {
			p = float64(matched) / float64(total)
		}
		logSum += math.Log(p) / maxNGram
	}

	score := brevityPenalty(len(reference), len(hypothesis)) * math.Exp(logSum)
	return math.Min(1, math.Max(0, score))
}

// clippedMatches counts hypothesis n-grams that also occur in the reference,
// each clipped to its reference count, and the number of hypothesis n-grams.
func clippedMatches(reference, hypothesis []string, n int) (matched, total int) {
	hyp := ngramCounts(hypothesis, n)
	if len(hyp) == 0 {
		return 0, 1
	}
	ref := ngramCounts(reference, n)
	for gram, count := range hyp {
		total += count
		matched += min(count, ref[gram])
	}
	return matched, total
}

func ngramCounts(tokens []string, n int) map[string]int {
	if len(tokens) < n {
		return nil
	}
	counts := make(map[string]int, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+n], "\x00")]++
	}
	return counts
}

func brevityPenalty(refLen, hypLen int) float64 {
	if hypLen > refLen {
		return 1
	}
	if hypLen == 0 {
		return 0
	}
	return math.Exp(1 - float64(refLen)/float64(hypLen))
}
