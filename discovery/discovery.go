// Package discovery enumerates new filings from the registry's feeds and
// indexes and turns them into candidates for dispatch. All sources share one
// loop: enumerate, classify, denylist, form filter, window filter, dedup.
package discovery

import (
	"context"
	"errors"
	"log"
	"time"

	"filingbot/feeds"
	"filingbot/metrics"
	"filingbot/registry"
	"filingbot/types"
)

// FeedFetcher retrieves Atom feeds.
type FeedFetcher interface {
	FetchFeed(ctx context.Context, url string) ([]byte, error)
}

// IndexFetcher retrieves submissions indexes.
type IndexFetcher interface {
	FetchIndex(ctx context.Context, cik string) (*registry.SubmissionsIndex, error)
}

// Listing is a filing as a source saw it, before classification.
type Listing struct {
	AccessionNumber string
	SubjectCIK      string
	// ArchiveCIK owns the archive folder documents are fetched from.
	// Defaults to SubjectCIK.
	ArchiveCIK      string
	FormText        string
	FilingDate      time.Time
	ReportDate      time.Time
	// Published is the feed timestamp, when the source has one.
	Published       time.Time
	PrimaryDocument string
	RelatedCIK      string
}

// Source enumerates listings published since a point in time. A source that
// fails for part of its inputs returns what it found along with the joined
// errors.
type Source interface {
	Name() string
	Enumerate(ctx context.Context, since time.Time) ([]Listing, error)
}

// Window bounds what a run keeps.
type Window struct {
	// Since drops listings published or filed before it. Zero keeps all.
	Since time.Time
	// Forms restricts the run to these canonical forms. Empty allows every
	// form a parser handles.
	Forms []string
}

// WindowFor returns a window reaching back d from now.
func WindowFor(now time.Time, d time.Duration, forms ...string) Window {
	return Window{Since: now.Add(-d), Forms: forms}
}

// Stats accounts for every listing a run saw.
type Stats struct {
	Source       string `json:"source"`
	Enumerated   int    `json:"enumerated"`
	Unclassified int    `json:"unclassified"`
	Denied       int    `json:"denied"`
	Filtered     int    `json:"filtered"`
	Stale        int    `json:"stale"`
	Duplicate    int    `json:"duplicate"`
	Kept         int    `json:"kept"`
	Errors       int    `json:"errors"`
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Enumerated += o.Enumerated
	s.Unclassified += o.Unclassified
	s.Denied += o.Denied
	s.Filtered += o.Filtered
	s.Stale += o.Stale
	s.Duplicate += o.Duplicate
	s.Kept += o.Kept
	s.Errors += o.Errors
}

// Run enumerates src and returns the candidates that survive the filters, in
// enumeration order. The error is only non-nil when the source produced
// nothing at all because of it.
func Run(ctx context.Context, src Source, w Window) ([]types.FilingCandidate, Stats, error) {
	stats := Stats{Source: src.Name()}

	listings, err := src.Enumerate(ctx, w.Since)
	if err != nil {
		stats.Errors = countErrors(err)
		metrics.Candidates.WithLabelValues(stats.Source, "error").Add(float64(stats.Errors))
		log.Printf("discovery: %s reported %d errors: %v", stats.Source, stats.Errors, err)
		if len(listings) == 0 {
			return nil, stats, err
		}
	}

	allowed := make(map[string]bool, len(w.Forms))
	for _, f := range w.Forms {
		if form, ok := feeds.ClassifyForm(f); ok {
			allowed[form] = true
		}
	}
	sinceDay := time.Time{}
	if !w.Since.IsZero() {
		sinceDay = feeds.CalendarDate(w.Since)
	}

	seen := make(map[string]struct{}, len(listings))
	candidates := make([]types.FilingCandidate, 0, len(listings))
	for _, l := range listings {
		stats.Enumerated++

		form, ok := feeds.ClassifyForm(l.FormText)
		switch {
		case !ok || !types.ValidAccession(l.AccessionNumber):
			stats.Unclassified++
			continue
		case feeds.IsDenied(form):
			stats.Denied++
			continue
		case feeds.FamilyOf(form) == feeds.FamilyUnknown, len(allowed) > 0 && !allowed[form]:
			stats.Filtered++
			continue
		case stale(l, w.Since, sinceDay):
			stats.Stale++
			continue
		}
		if _, dup := seen[l.AccessionNumber]; dup {
			stats.Duplicate++
			continue
		}
		seen[l.AccessionNumber] = struct{}{}

		candidates = append(candidates, candidate(l, form, stats.Source))
		stats.Kept++
	}

	metrics.Candidates.WithLabelValues(stats.Source, "discovered").Add(float64(stats.Kept))
	log.Printf("discovery: %s enumerated %d, kept %d (unclassified %d, denied %d, filtered %d, stale %d, duplicate %d)",
		stats.Source, stats.Enumerated, stats.Kept, stats.Unclassified, stats.Denied, stats.Filtered, stats.Stale, stats.Duplicate)
	return candidates, stats, nil
}

// stale compares feed timestamps exactly and index dates by calendar day.
func stale(l Listing, since, sinceDay time.Time) bool {
	if since.IsZero() {
		return false
	}
	if !l.Published.IsZero() {
		return l.Published.Before(since)
	}
	if l.FilingDate.IsZero() {
		return false
	}
	return l.FilingDate.Before(sinceDay)
}

func candidate(l Listing, form, source string) types.FilingCandidate {
	archive := l.ArchiveCIK
	if archive == "" {
		archive = l.SubjectCIK
	}
	primary := l.PrimaryDocument
	if feeds.FamilyOf(form) == feeds.FamilyHoldings {
		// The 13F primary document is the cover page; the holdings live in
		// the information table, which only the full submission carries.
		primary = ""
	}
	return types.FilingCandidate{
		AccessionNumber:        l.AccessionNumber,
		SubjectCIK:             registry.TrimCIK(l.SubjectCIK),
		FormType:               form,
		FilingDate:             l.FilingDate,
		ReportDate:             l.ReportDate,
		CandidateDocumentPaths: registry.DocumentPaths(archive, l.AccessionNumber, primary),
		RelatedCIK:             l.RelatedCIK,
		Source:                 source,
	}
}

func countErrors(err error) int {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return len(joined.Unwrap())
	}
	return 1
}
