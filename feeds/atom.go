// Package feeds parses the registry's Atom feeds into entries and classifies
// free-text form types.
package feeds

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"filingbot/types"

	"github.com/mmcdole/gofeed"
)

// Entry roles in the site-wide feed, which lists a filing once per party.
const (
	RoleIssuer    = "Issuer"
	RoleReporting = "Reporting"
	RoleSubject   = "Subject"
	RoleFiledBy   = "Filed by"
	RoleFiler     = "Filer"
)

// Entry is one filing as listed in an Atom feed.
type Entry struct {
	AccessionNumber string
	// ArchiveCIK is the identifier whose archive folder the entry links to.
	ArchiveCIK string
	// PartyCIK and Role come from the title of site-wide feed entries, e.g.
	// "4 - Example Inc. (0000320193) (Issuer)".
	PartyCIK   string
	Role       string
	FormText   string
	Title      string
	Link       string
	FilingDate time.Time
	Updated    time.Time
}

var (
	accessionInText = regexp.MustCompile(`\d{10}-\d{2}-\d{6}`)
	archiveCIK      = regexp.MustCompile(`/edgar/data/0*(\d+)/`)
	titleParty      = regexp.MustCompile(`\((\d{10})\)\s*\(([^)]+)\)\s*$`)
	contentDate     = regexp.MustCompile(`(?:filing-date>|Filed:\s*(?:</b>)?\s*)(\d{4}-\d{2}-\d{2})`)
	// The registry stamps feeds in US Eastern time.
	registryZone = loadZone("America/New_York")
)

func loadZone(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}

// ParseAtom parses a registry Atom feed. Entries without a recognisable
// accession number are skipped.
func ParseAtom(body []byte) ([]Entry, error) {
	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	entries := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entry, ok := entryFromItem(item)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func entryFromItem(item *gofeed.Item) (Entry, bool) {
	acc := firstMatch(accessionInText, item.GUID, item.Link, item.Content, item.Description)
	if !types.ValidAccession(acc) {
		return Entry{}, false
	}

	entry := Entry{
		AccessionNumber: acc,
		Title:           strings.TrimSpace(item.Title),
		Link:            item.Link,
	}
	if m := archiveCIK.FindStringSubmatch(item.Link); m != nil {
		entry.ArchiveCIK = m[1]
	}
	if m := titleParty.FindStringSubmatch(entry.Title); m != nil {
		entry.PartyCIK = m[1]
		entry.Role = strings.TrimSpace(m[2])
	}

	// The category term is the structured form type; the title prefix is the
	// fallback for feeds that omit it.
	if len(item.Categories) > 0 && strings.TrimSpace(item.Categories[0]) != "" {
		entry.FormText = strings.TrimSpace(item.Categories[0])
	} else if i := strings.Index(entry.Title, " - "); i > 0 {
		entry.FormText = strings.TrimSpace(entry.Title[:i])
	} else {
		entry.FormText = entry.Title
	}

	switch {
	case item.UpdatedParsed != nil:
		entry.Updated = *item.UpdatedParsed
	case item.PublishedParsed != nil:
		entry.Updated = *item.PublishedParsed
	}

	if m := contentDate.FindStringSubmatch(item.Content + " " + item.Description); m != nil {
		if d, err := time.Parse(types.DateLayout, m[1]); err == nil {
			entry.FilingDate = d
		}
	}
	if entry.FilingDate.IsZero() && !entry.Updated.IsZero() {
		entry.FilingDate = CalendarDate(entry.Updated)
	}
	return entry, true
}

// CalendarDate returns the registry's calendar day of t as a UTC midnight.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.In(registryZone).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func firstMatch(re *regexp.Regexp, texts ...string) string {
	for _, t := range texts {
		if m := re.FindString(t); m != "" {
			return m
		}
	}
	return ""
}

// IsSubjectRole reports whether role names the party a filing is about.
func IsSubjectRole(role string) bool {
	switch role {
	case RoleIssuer, RoleSubject:
		return true
	}
	return false
}
