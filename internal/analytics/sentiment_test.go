package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScorePositive(t *testing.T) {
	s := Score("This is a great and awesome release, love it")
	assert.Greater(t, s, 0.0)
	assert.LessOrEqual(t, s, 1.0)
}

func TestScoreNegative(t *testing.T) {
	s := Score("terrible update, broken and useless.")
	assert.Less(t, s, 0.0)
	assert.GreaterOrEqual(t, s, -1.0)
}

func TestScoreNeutral(t *testing.T) {
	assert.Zero(t, Score("the quarterly report was published on tuesday"))
	assert.Zero(t, Score(""))
}

func TestScoreMixed(t *testing.T) {
	// One positive, one negative hit cancel out.
	assert.Zero(t, Score("great idea, terrible execution"))
}

func TestScoreIgnoresPunctuationAndCase(t *testing.T) {
	assert.Equal(t, Score("GREAT!"), Score("great"))
}
