// Package ingest loads collection targets from CSV input files; the
// one-shot `collect` command builds a job spec from them.
package ingest

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/qepting91/trendit/internal/domain"
)

// Regex for valid subreddit names
var subNameRegex = regexp.MustCompile(`^[A-Za-z0-9_]{3,21}$`)

// Target is one subreddit row from the input file.
type Target struct {
	Subreddit string
	MinScore  int
}

// LoadTargets reads "subreddit,min_score" rows, skipping the header and any
// row that fails validation (fail-soft: a bad row should not kill the run).
func LoadTargets(path string) ([]Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(stripBOM(f))

	var targets []Target
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		line++
		if line == 1 {
			continue // header
		}

		sub := strings.TrimSpace(record[0])
		if !subNameRegex.MatchString(sub) {
			continue
		}

		score := 0
		if len(record) > 1 {
			score, _ = strconv.Atoi(strings.TrimSpace(record[1]))
		}
		targets = append(targets, Target{Subreddit: sub, MinScore: score})
	}
	return targets, nil
}

// LoadKeywords reads one keyword per row, lowercased.
func LoadKeywords(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(stripBOM(f))
	var kws []string
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if line > 0 && len(rec) > 0 {
			if k := strings.ToLower(strings.TrimSpace(rec[0])); k != "" {
				kws = append(kws, k)
			}
		}
		line++
	}
	return kws, nil
}

// BuildSpec assembles a job spec from the input files. The job-level min
// score is the lowest per-target score so no targeted subreddit is
// over-filtered.
func BuildSpec(targets []Target, keywords []string) domain.JobSpec {
	spec := domain.JobSpec{
		SortTypes:   []domain.SortType{domain.SortHot},
		TimeFilters: []domain.TimeFilter{domain.TimeDay},
		Keywords:    keywords,
		ExcludeNSFW: true,
	}
	for i, t := range targets {
		spec.Subreddits = append(spec.Subreddits, t.Subreddit)
		if i == 0 || t.MinScore < spec.MinScore {
			spec.MinScore = t.MinScore
		}
	}
	return spec
}

func stripBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	rdr, _, err := br.ReadRune()
	if err != nil {
		return br
	}
	if rdr != '\uFEFF' {
		br.UnreadRune()
	}
	return br
}
