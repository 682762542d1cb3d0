package registry

import (
	"fmt"
	"path"
	"strings"

	"filingbot/types"
)

// SubmissionsIndex is the per-identifier index document. Recent filings are
// parallel arrays that callers zip by position (see Entries).
type SubmissionsIndex struct {
	CIK     string `json:"cik"`
	Name    string `json:"name"`
	Filings struct {
		Recent RecentFilings `json:"recent"`
	} `json:"filings"`
}

// RecentFilings holds the index columns the pipeline uses.
type RecentFilings struct {
	AccessionNumber []string `json:"accessionNumber"`
	FilingDate      []string `json:"filingDate"`
	ReportDate      []string `json:"reportDate"`
	Form            []string `json:"form"`
	PrimaryDocument []string `json:"primaryDocument"`
}

// IndexEntry is one zipped row of RecentFilings.
type IndexEntry struct {
	AccessionNumber string
	FilingDate      string
	ReportDate      string
	Form            string
	PrimaryDocument string
}

// Entries zips the parallel arrays. Columns shorter than the accession column
// yield empty strings rather than shifting values between filings.
func (r RecentFilings) Entries() []IndexEntry {
	at := func(col []string, i int) string {
		if i < len(col) {
			return col[i]
		}
		return ""
	}
	entries := make([]IndexEntry, 0, len(r.AccessionNumber))
	for i, acc := range r.AccessionNumber {
		entries = append(entries, IndexEntry{
			AccessionNumber: acc,
			FilingDate:      at(r.FilingDate, i),
			ReportDate:      at(r.ReportDate, i),
			Form:            at(r.Form, i),
			PrimaryDocument: at(r.PrimaryDocument, i),
		})
	}
	return entries
}

// PadCIK left-pads a numeric identifier to the 10 digits the index expects.
func PadCIK(cik string) string {
	cik = TrimCIK(cik)
	if len(cik) >= 10 {
		return cik
	}
	return strings.Repeat("0", 10-len(cik)) + cik
}

// TrimCIK strips leading zeros, as archive paths use the bare number.
func TrimCIK(cik string) string {
	cik = strings.TrimLeft(strings.TrimSpace(cik), "0")
	if cik == "" {
		return "0"
	}
	return cik
}

// IndexPath is the submissions index location of cik.
func IndexPath(cik string) string {
	return fmt.Sprintf("/submissions/CIK%s.json", PadCIK(cik))
}

// DocumentPaths lists where a filing's content may live, most specific first.
// The layout varies by filer and by viewer generation, so callers try each in
// turn:
//  1. the primary document named by the index, without any XSL viewer folder
//  2. the full submission text inside the accession folder
//  3. the legacy flat full submission text
func DocumentPaths(cik, accession, primaryDocument string) []string {
	base := fmt.Sprintf("/Archives/edgar/data/%s", TrimCIK(cik))
	folder := base + "/" + types.AccessionNoDashes(accession)

	var paths []string
	if doc := rawDocumentName(primaryDocument); doc != "" {
		paths = append(paths, folder+"/"+doc)
	}
	paths = append(paths,
		folder+"/"+accession+".txt",
		base+"/"+accession+".txt",
	)
	return paths
}

// rawDocumentName drops the XSL rendering folder (xslF345X05/…) so the raw
// XML is fetched instead of the HTML rendering.
func rawDocumentName(doc string) string {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return ""
	}
	dir, file := path.Split(doc)
	if strings.HasPrefix(strings.ToLower(dir), "xsl") {
		return file
	}
	return doc
}
