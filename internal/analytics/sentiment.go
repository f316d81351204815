// Package analytics computes derived values over already-collected records:
// a lexicon sentiment score and per-job summary statistics. Everything is a
// pure function; persistence of the results belongs to the caller.
package analytics

import "strings"

var positiveWords = map[string]bool{
	"good": true, "great": true, "awesome": true, "excellent": true, "love": true,
	"amazing": true, "best": true, "helpful": true, "nice": true, "thanks": true,
	"happy": true, "win": true, "works": true, "perfect": true, "fixed": true,
	"recommend": true, "useful": true, "solid": true, "impressive": true, "fast": true,
}

var negativeWords = map[string]bool{
	"bad": true, "terrible": true, "awful": true, "hate": true, "worst": true,
	"broken": true, "useless": true, "scam": true, "slow": true, "bug": true,
	"crash": true, "fail": true, "wrong": true, "annoying": true, "garbage": true,
	"disappointed": true, "problem": true, "issue": true, "horrible": true, "sucks": true,
}

// Score rates text in [-1, 1] by counting lexicon hits. Zero means neutral
// or no signal. Crude, but stable and dependency-free, which is what the
// annotation pass needs.
func Score(text string) float64 {
	var pos, neg int
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:'\"()[]")
		if positiveWords[word] {
			pos++
		} else if negativeWords[word] {
			neg++
		}
	}
	total := pos + neg
	if total == 0 {
		return 0
	}
	return float64(pos-neg) / float64(total)
}
