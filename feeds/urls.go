package feeds

import (
	"net/url"
	"strconv"
)

// Owner filters of the per-company feed.
const (
	OwnerInclude = "include"
	OwnerExclude = "exclude"
	OwnerOnly    = "only"
)

// CurrentFeedPath is the site-wide recent filings feed for one form category,
// starting at offset start.
func CurrentFeedPath(category string, start, count int) string {
	q := url.Values{}
	q.Set("action", "getcurrent")
	q.Set("type", category)
	q.Set("company", "")
	q.Set("dateb", "")
	q.Set("owner", OwnerInclude)
	q.Set("start", strconv.Itoa(start))
	q.Set("count", strconv.Itoa(count))
	q.Set("output", "atom")
	return "/cgi-bin/browse-edgar?" + q.Encode()
}

// CompanyFeedPath is the per-identifier feed, optionally narrowed to one
// form type keyword.
func CompanyFeedPath(cik, formType, owner string, count int) string {
	q := url.Values{}
	q.Set("action", "getcompany")
	q.Set("CIK", cik)
	q.Set("type", formType)
	q.Set("dateb", "")
	if owner == "" {
		owner = OwnerInclude
	}
	q.Set("owner", owner)
	q.Set("count", strconv.Itoa(count))
	q.Set("output", "atom")
	return "/cgi-bin/browse-edgar?" + q.Encode()
}
