package feeds

import (
	"regexp"
	"strings"
)

// Canonical form types the pipeline parses.
const (
	Form3      = "3"
	Form3A     = "3/A"
	Form4      = "4"
	Form4A     = "4/A"
	Form5      = "5"
	Form5A     = "5/A"
	Form144    = "144"
	Form144A   = "144/A"
	Form13FHR  = "13F-HR"
	Form13FHRA = "13F-HR/A"
	Form13FNT  = "13F-NT"
	Form13FNTA = "13F-NT/A"
	FormSC13D  = "SC 13D"
	FormSC13DA = "SC 13D/A"
	FormSC13G  = "SC 13G"
	FormSC13GA = "SC 13G/A"
	Form424B2  = "424B2"
	FormFWP    = "FWP"
)

// Family groups form types by the parser that handles them.
type Family string

const (
	FamilyOwnership    Family = "ownership"
	FamilyHoldings     Family = "holdings"
	FamilyPosition     Family = "position"
	FamilyProposedSale Family = "proposed_sale"
	FamilyUnknown      Family = ""
)

// formTerminal stops "4" from matching "424B2".
const formTerminal = `(?:[\s-]|$)`

type formPattern struct {
	form string
	re   *regexp.Regexp
}

func pattern(form, expr string) formPattern {
	return formPattern{form: form, re: regexp.MustCompile(`(?i)^\s*` + expr + formTerminal)}
}

// formPatterns is ordered most specific first. An amendment must be tried
// before its base form, otherwise "SC 13D/A" classifies as "SC 13D".
var formPatterns = []formPattern{
	pattern(Form13FHRA, `13F-HR/A`),
	pattern(Form13FHR, `13F-HR`),
	pattern(Form13FNTA, `13F-NT/A`),
	pattern(Form13FNT, `13F-NT`),
	pattern(FormSC13DA, `(?:SC|SCHEDULE)\s*13D/A`),
	pattern(FormSC13D, `(?:SC|SCHEDULE)\s*13D`),
	pattern(FormSC13GA, `(?:SC|SCHEDULE)\s*13G/A`),
	pattern(FormSC13G, `(?:SC|SCHEDULE)\s*13G`),
	pattern(Form144A, `144/A`),
	pattern(Form144, `144`),
	pattern(Form424B2, `424B2`),
	pattern(FormFWP, `FWP`),
	pattern(Form3A, `3/A`),
	pattern(Form3, `3`),
	pattern(Form4A, `4/A`),
	pattern(Form4, `4`),
	pattern(Form5A, `5/A`),
	pattern(Form5, `5`),
}

// denied are routine or high-noise forms dropped before dispatch.
var denied = map[string]struct{}{
	Form13FNT:  {},
	Form13FNTA: {},
	Form424B2:  {},
	FormFWP:    {},
}

var families = map[string]Family{
	Form3: FamilyOwnership, Form3A: FamilyOwnership,
	Form4: FamilyOwnership, Form4A: FamilyOwnership,
	Form5: FamilyOwnership, Form5A: FamilyOwnership,
	Form13FHR: FamilyHoldings, Form13FHRA: FamilyHoldings,
	FormSC13D: FamilyPosition, FormSC13DA: FamilyPosition,
	FormSC13G: FamilyPosition, FormSC13GA: FamilyPosition,
	Form144: FamilyProposedSale, Form144A: FamilyProposedSale,
}

// ClassifyForm maps free text (a category term, an entry title, an index
// form column) to a canonical form type. ok is false when nothing matches.
func ClassifyForm(text string) (form string, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	for _, p := range formPatterns {
		if p.re.MatchString(text) {
			return p.form, true
		}
	}
	return "", false
}

// IsDenied reports whether form is on the denylist.
func IsDenied(form string) bool {
	_, ok := denied[form]
	return ok
}

// FamilyOf returns the parser family of a canonical form type.
func FamilyOf(form string) Family {
	return families[form]
}

// IsAmendment reports whether form is an amended filing.
func IsAmendment(form string) bool {
	return strings.HasSuffix(form, "/A")
}
