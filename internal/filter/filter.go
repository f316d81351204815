// Package filter evaluates a job's content predicates and applies optional
// author anonymization. Everything here is pure with respect to the record
// store: records go in, keep/drop decisions and transformed copies come out.
package filter

import (
	"strings"
	"time"

	"github.com/qepting91/trendit/internal/domain"
)

// Filter holds the compiled predicates for one job.
type Filter struct {
	spec    domain.JobSpec
	include []string
	exclude []string
	anon    *Anonymizer
}

// New compiles the spec's predicates. Keyword matching is case-insensitive,
// so keywords are lowercased once here.
func New(spec domain.JobSpec) *Filter {
	f := &Filter{spec: spec}
	for _, k := range spec.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			f.include = append(f.include, k)
		}
	}
	for _, k := range spec.ExcludeKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			f.exclude = append(f.exclude, k)
		}
	}
	if spec.AnonymizeUsers {
		f.anon = NewAnonymizer()
	}
	return f
}

// KeepPost applies all predicates conjunctively.
func (f *Filter) KeepPost(p domain.Post) bool {
	if p.Score < f.spec.MinScore {
		return false
	}
	if p.UpvoteRatio < f.spec.MinUpvoteRatio {
		return false
	}
	if f.spec.ExcludeNSFW && p.IsNSFW {
		return false
	}
	if !f.inDateRange(p.CreatedUTC) {
		return false
	}
	return f.keepText(p.Title + " " + p.Selftext)
}

// KeepComment applies the predicates that exist for comments: score, date
// range and the exclude-keyword list over the body.
func (f *Filter) KeepComment(c domain.Comment) bool {
	if c.Score < f.spec.MinScore {
		return false
	}
	if !f.inDateRange(c.CreatedUTC) {
		return false
	}
	body := strings.ToLower(c.Body)
	for _, k := range f.exclude {
		if strings.Contains(body, k) {
			return false
		}
	}
	return true
}

// Transform returns the record as it should be persisted, applying
// anonymization when the job asked for it.
func (f *Filter) TransformPost(p domain.Post) domain.Post {
	if f.anon != nil {
		p.Author = f.anon.Pseudonym(p.Author)
		p.AuthorID = ""
	}
	return p
}

func (f *Filter) TransformComment(c domain.Comment) domain.Comment {
	if f.anon != nil {
		c.Author = f.anon.Pseudonym(c.Author)
		c.AuthorID = ""
	}
	return c
}

// Anonymized reports whether author identities are being replaced; user
// profile collection is skipped for anonymized jobs.
func (f *Filter) Anonymized() bool { return f.anon != nil }

func (f *Filter) inDateRange(t time.Time) bool {
	if f.spec.DateFrom != nil && t.Before(*f.spec.DateFrom) {
		return false
	}
	if f.spec.DateTo != nil && t.After(*f.spec.DateTo) {
		return false
	}
	return true
}

// keepText checks the keyword predicates: at least one include keyword must
// match (when any are set) and no exclude keyword may match.
func (f *Filter) keepText(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range f.exclude {
		if strings.Contains(lower, k) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, k := range f.include {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
