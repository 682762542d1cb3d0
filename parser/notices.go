package parser

import (
	"encoding/xml"
	"regexp"
	"strings"

	"filingbot/feeds"
	"filingbot/types"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

var (
	percentOfClass = regexp.MustCompile(`(?i)percent\s+of\s+class\s+represented\s+by\s+amount\s+in\s+row\s*\(?\s*\d+\s*\)?[^0-9%]{0,60}?([0-9]+(?:\.[0-9]+)?)\s*%`)
	aggregateOwned = regexp.MustCompile(`(?i)aggregate\s+amount\s+beneficially\s+owned\s+by\s+each\s+reporting\s+person[^0-9]{0,60}?([0-9][0-9,]*(?:\.[0-9]+)?)`)
	cusipBefore    = regexp.MustCompile(`(?i)\b([0-9A-Z]{9})\s*\(CUSIP\s+Number\)`)
	cusipAfter     = regexp.MustCompile(`(?i)CUSIP\s*(?:No\.?|Number|#)\s*:?\s*([0-9A-Z]{9})\b`)
	eventBefore    = regexp.MustCompile(`(?i)([A-Z][a-z]+\.?\s+\d{1,2},\s*\d{4}|\d{1,2}/\d{1,2}/\d{4})\s*\(Date\s+of\s+Event`)
	issuerBefore   = regexp.MustCompile(`(?i)([^()]{3,120}?)\s*\(Name\s+of\s+Issuer\)`)
	whitespace     = regexp.MustCompile(`\s+`)
)

// parsePosition extracts a 13D/13G large-position notice. Structured XML
// filings are read field by field; older HTML or text filings are reduced to
// text with goquery and scanned for the cover page items.
func parsePosition(docs []Document, msg types.ParseJobMessage) ([]types.Row, int, error) {
	doc := positionDocument(docs)
	if doc == nil {
		return nil, 0, ErrNoContent
	}

	notice := types.OwnershipNotice{
		AccessionNumber: msg.IdempotencyKey,
		SubjectCIK:      trimCIK(msg.SubjectID),
		FormType:        msg.FormType,
		Category:        positionCategory(msg.FormType),
		FilingDate:      msg.FilingDate,
	}

	var percent, shares, cusip, event string
	if isXML(doc.Body) {
		f := xmlFields(doc.Body, "percentOfClass", "aggregateAmountOwned", "issuerCUSIP",
			"eventDateRequiresFilingThisStatement", "dateOfEvent", "issuerName", "reportingPersonName")
		percent, shares, event = f["percentofclass"], f["aggregateamountowned"], f["eventdaterequiresfilingthisstatement"]
		cusip = f["issuercusip"]
		if event == "" {
			event = f["dateofevent"]
		}
		notice.IssuerName = f["issuername"]
		notice.FilerName = f["reportingpersonname"]
	} else {
		text, err := documentText(doc.Body)
		if err != nil {
			return nil, 0, err
		}
		percent = submatch(percentOfClass, text)
		shares = submatch(aggregateOwned, text)
		cusip = firstNonEmpty(submatch(cusipBefore, text), submatch(cusipAfter, text))
		event = submatch(eventBefore, text)
		notice.IssuerName = strings.Trim(submatch(issuerBefore, text), " *")
	}

	pct, ok := requiredNumber(percent)
	if !ok || pct > 100 {
		return nil, 1, nil
	}
	amount, ok := optionalNumber(shares)
	if !ok {
		return nil, 1, nil
	}
	notice.PercentOfClass = pct
	notice.Shares = amount
	notice.CUSIP = strings.ToUpper(cusip)
	notice.EventDate = firstNonEmpty(normalizeDate(event), msg.FilingDate)
	return []types.Row{notice}, 0, nil
}

// parseProposedSale extracts a Form 144 notice of proposed sale.
func parseProposedSale(docs []Document, msg types.ParseJobMessage) ([]types.Row, int, error) {
	for _, doc := range docs {
		if !isXML(doc.Body) || !strings.Contains(doc.Body, "noOfUnitsSold") {
			continue
		}
		f := xmlFields(doc.Body, "issuerName", "nameOfPersonForWhoseAccountTheSecuritiesAreToBeSold",
			"noOfUnitsSold", "aggregateMarketValue", "approxSaleDate")

		shares, ok := requiredNumber(f["noofunitssold"])
		if !ok {
			return nil, 1, nil
		}
		value, ok := optionalNumber(f["aggregatemarketvalue"])
		if !ok {
			return nil, 1, nil
		}
		return []types.Row{types.OwnershipNotice{
			AccessionNumber: msg.IdempotencyKey,
			SubjectCIK:      trimCIK(msg.SubjectID),
			FormType:        msg.FormType,
			Category:        CategoryProposedSale,
			FilerName:       f["nameofpersonforwhoseaccountthesecuritiesaretobesold"],
			IssuerName:      f["issuername"],
			Shares:          shares,
			MarketValue:     value,
			EventDate:       firstNonEmpty(normalizeDate(f["approxsaledate"]), msg.FilingDate),
			FilingDate:      msg.FilingDate,
		}}, 0, nil
	}
	return nil, 0, ErrNoContent
}

func positionDocument(docs []Document) *Document {
	for i := range docs {
		t := strings.ToUpper(docs[i].Type)
		if strings.HasPrefix(t, "SC 13") || strings.HasPrefix(t, "SCHEDULE 13") {
			return &docs[i]
		}
	}
	if len(docs) > 0 && docs[0].Body != "" {
		return &docs[0]
	}
	return nil
}

func positionCategory(form string) string {
	if form == feeds.FormSC13G || form == feeds.FormSC13GA {
		return CategoryPassivePosition
	}
	return CategoryActivistPosition
}

// documentText reduces an HTML (or plain text) document to single-spaced
// text.
func documentText(body string) (string, error) {
	text := body
	if strings.Contains(strings.ToLower(body), "<html") || strings.Contains(strings.ToLower(body), "<p") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			return "", err
		}
		doc.Find("script, style").Remove()
		// Cell and paragraph boundaries would otherwise glue words together.
		doc.Find("td, th, p, div, br, tr").Each(func(_ int, s *goquery.Selection) {
			s.AppendHtml(" ")
		})
		text = doc.Text()
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " ")), nil
}

// xmlFields returns the first text value of each named element, keyed by
// lower-cased local name. Namespaces are ignored.
func xmlFields(body string, names ...string) map[string]string {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[strings.ToLower(n)] = true
	}
	out := make(map[string]string, len(names))

	dec := xml.NewDecoder(strings.NewReader(body))
	dec.Strict = false
	dec.CharsetReader = charset.NewReaderLabel
	current := ""
	for {
		tok, err := dec.Token()
		if err != nil {
			// io.EOF, or a malformed tail: keep what was read so far.
			return out
		}
		switch t := tok.(type) {
		case xml.StartElement:
			current = strings.ToLower(t.Name.Local)
		case xml.EndElement:
			current = ""
		case xml.CharData:
			if current == "" || !wanted[current] {
				continue
			}
			if _, seen := out[current]; seen {
				continue
			}
			if v := strings.TrimSpace(string(t)); v != "" {
				out[current] = v
			}
		}
	}
}

func submatch(re *regexp.Regexp, text string) string {
	if m := re.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
