package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"filingbot/config"
	"filingbot/feeds"
	"filingbot/registry"
	"filingbot/types"
)

// Global feed modes.
const (
	ModeIncremental = "incremental"
	ModeCatchup     = "catchup"
)

// GlobalFeed pages through the site-wide recent filings feed of one form
// category until it reaches entries older than the window.
type GlobalFeed struct {
	Feeds    FeedFetcher
	Category string
	Mode     string
	PageSize int
	MaxPages int
}

// NewGlobalFeed returns a global feed source with the default paging.
func NewGlobalFeed(f FeedFetcher, category, mode string) *GlobalFeed {
	return &GlobalFeed{
		Feeds:    f,
		Category: category,
		Mode:     mode,
		PageSize: config.GlobalFeedPageSize,
		MaxPages: config.GlobalFeedMaxPages,
	}
}

func (g *GlobalFeed) Name() string { return "global_" + g.Mode }

func (g *GlobalFeed) Enumerate(ctx context.Context, since time.Time) ([]Listing, error) {
	var entries []feeds.Entry
	for page := 0; page < g.MaxPages; page++ {
		body, err := g.Feeds.FetchFeed(ctx, feeds.CurrentFeedPath(g.Category, page*g.PageSize, g.PageSize))
		if err != nil {
			if len(entries) > 0 {
				return collapseParties(entries), fmt.Errorf("page %d: %w", page, err)
			}
			return nil, err
		}
		batch, err := feeds.ParseAtom(body)
		if err != nil {
			return collapseParties(entries), fmt.Errorf("page %d: %w", page, err)
		}

		reachedWindow := false
		for _, e := range batch {
			if !since.IsZero() && !e.Updated.IsZero() && e.Updated.Before(since) {
				reachedWindow = true
				continue
			}
			entries = append(entries, e)
		}
		if reachedWindow || len(batch) < g.PageSize {
			break
		}
	}
	return collapseParties(entries), nil
}

// collapseParties merges the per-party entries of one filing. The subject is
// the issuer or subject company when the feed names one, otherwise the first
// party listed.
func collapseParties(entries []feeds.Entry) []Listing {
	index := make(map[string]int, len(entries))
	var listings []Listing
	for _, e := range entries {
		party := firstNonEmpty(e.PartyCIK, e.ArchiveCIK)
		i, ok := index[e.AccessionNumber]
		if !ok {
			index[e.AccessionNumber] = len(listings)
			listings = append(listings, Listing{
				AccessionNumber: e.AccessionNumber,
				SubjectCIK:      party,
				ArchiveCIK:      e.ArchiveCIK,
				FormText:        e.FormText,
				FilingDate:      e.FilingDate,
				Published:       e.Updated,
			})
			continue
		}
		if feeds.IsSubjectRole(e.Role) && party != "" {
			listings[i].SubjectCIK = party
			if e.ArchiveCIK != "" {
				listings[i].ArchiveCIK = e.ArchiveCIK
			}
		}
	}
	return listings
}

// CompanyIndex reads the submissions index of every watchlist identifier.
// Index entries name their primary document, so candidates try it first.
type CompanyIndex struct {
	Index     IndexFetcher
	Watchlist []types.WatchlistEntity
}

func (c *CompanyIndex) Name() string { return "company_index" }

func (c *CompanyIndex) Enumerate(ctx context.Context, since time.Time) ([]Listing, error) {
	var (
		listings []Listing
		errs     []error
	)
	for _, entity := range c.Watchlist {
		for _, cik := range entity.Identifiers() {
			idx, err := c.Index.FetchIndex(ctx, cik)
			if errors.Is(err, registry.ErrNotFound) {
				log.Printf("discovery: no submissions index for %s (%s)", cik, entity.Name)
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return listings, ctx.Err()
				}
				errs = append(errs, fmt.Errorf("index %s: %w", cik, err))
				continue
			}
			for _, e := range idx.Filings.Recent.Entries() {
				listings = append(listings, Listing{
					AccessionNumber: e.AccessionNumber,
					SubjectCIK:      cik,
					FormText:        e.Form,
					FilingDate:      parseDay(e.FilingDate),
					ReportDate:      parseDay(e.ReportDate),
					PrimaryDocument: e.PrimaryDocument,
					RelatedCIK:      entity.RelatedCIK,
				})
			}
		}
	}
	return listings, errors.Join(errs...)
}

// InsiderFeed polls ownership filings per entity. Individuals are queried as
// reporting owners and their rows restricted to themselves; companies with a
// related owner are queried as issuers and restricted to that owner.
type InsiderFeed struct {
	Feeds     FeedFetcher
	Watchlist []types.WatchlistEntity
	Count     int
}

func (f *InsiderFeed) Name() string { return "insider_feed" }

func (f *InsiderFeed) Enumerate(ctx context.Context, since time.Time) ([]Listing, error) {
	var (
		listings []Listing
		errs     []error
	)
	for _, entity := range f.Watchlist {
		owner, related := "", ""
		switch {
		case entity.Kind == types.KindIndividual:
			owner = feeds.OwnerOnly
		case entity.RelatedCIK != "":
			owner, related = feeds.OwnerInclude, entity.RelatedCIK
		default:
			continue
		}
		for _, cik := range entity.Identifiers() {
			if entity.Kind == types.KindIndividual {
				related = cik
			}
			entries, err := fetchEntries(ctx, f.Feeds, feeds.CompanyFeedPath(cik, feeds.Form4, owner, countOr(f.Count)))
			if err != nil {
				if ctx.Err() != nil {
					return listings, ctx.Err()
				}
				errs = append(errs, fmt.Errorf("insider feed %s: %w", cik, err))
				continue
			}
			for _, e := range entries {
				l := entityListing(e, cik)
				l.RelatedCIK = related
				listings = append(listings, l)
			}
		}
	}
	return listings, errors.Join(errs...)
}

// TypedBrowse runs one per-identifier feed query per form keyword and merges
// the results, first occurrence wins.
type TypedBrowse struct {
	Feeds     FeedFetcher
	Watchlist []types.WatchlistEntity
	FormTypes []string
	Count     int
}

func (t *TypedBrowse) Name() string { return "typed_browse" }

func (t *TypedBrowse) Enumerate(ctx context.Context, since time.Time) ([]Listing, error) {
	var (
		listings []Listing
		errs     []error
	)
	seen := make(map[string]struct{})
	for _, entity := range t.Watchlist {
		keywords := t.FormTypes
		if len(entity.FormTypes) > 0 {
			keywords = entity.FormTypes
		}
		for _, cik := range entity.Identifiers() {
			for _, kw := range keywords {
				entries, err := fetchEntries(ctx, t.Feeds, feeds.CompanyFeedPath(cik, kw, feeds.OwnerInclude, countOr(t.Count)))
				if err != nil {
					if ctx.Err() != nil {
						return listings, ctx.Err()
					}
					errs = append(errs, fmt.Errorf("typed browse %s %q: %w", cik, kw, err))
					continue
				}
				for _, e := range entries {
					if _, dup := seen[e.AccessionNumber]; dup {
						continue
					}
					seen[e.AccessionNumber] = struct{}{}
					l := entityListing(e, cik)
					l.RelatedCIK = entity.RelatedCIK
					listings = append(listings, l)
				}
			}
		}
	}
	return listings, errors.Join(errs...)
}

func fetchEntries(ctx context.Context, f FeedFetcher, path string) ([]feeds.Entry, error) {
	body, err := f.FetchFeed(ctx, path)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return feeds.ParseAtom(body)
}

// entityListing converts an entry of a per-identifier feed. The queried
// identifier is the subject unless the entry names an issuer or subject.
func entityListing(e feeds.Entry, cik string) Listing {
	subject := cik
	if feeds.IsSubjectRole(e.Role) && e.PartyCIK != "" {
		subject = e.PartyCIK
	}
	return Listing{
		AccessionNumber: e.AccessionNumber,
		SubjectCIK:      subject,
		ArchiveCIK:      firstNonEmpty(e.ArchiveCIK, cik),
		FormText:        e.FormText,
		FilingDate:      e.FilingDate,
		Published:       e.Updated,
	}
}

func countOr(n int) int {
	if n <= 0 {
		return config.EntityFeedCount
	}
	return n
}

func parseDay(s string) time.Time {
	t, err := time.Parse(types.DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
