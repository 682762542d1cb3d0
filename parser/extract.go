// Package parser turns fetched filing documents into lake rows. A Worker
// drives one message through idempotency check, fetch, parse and buffering.
package parser

import (
	"errors"
	"fmt"
	"regexp"

	"filingbot/feeds"
	"filingbot/types"
)

var (
	// ErrNoContent means the fetched document does not hold what the form
	// needs (an index page, or a primary document without the data). The
	// worker moves on to the next candidate path.
	ErrNoContent = errors.New("document has no extractable content")

	// ErrUnsupportedForm is returned for form types no parser handles.
	ErrUnsupportedForm = errors.New("unsupported form type")
)

var ownershipRoot = regexp.MustCompile(`<ownershipDocument[\s>]`)

// Extraction is the result of parsing one filing.
type Extraction struct {
	Rows []types.Row
	// Dropped counts entries rejected for missing or invalid required values.
	Dropped int
}

// Extract parses raw (a full submission or a single document) for msg's form
// type.
func Extract(msg types.ParseJobMessage, raw []byte) (Extraction, error) {
	text := string(raw)
	docs := SplitDocuments(text)

	var (
		rows    []types.Row
		dropped int
		err     error
	)
	switch feeds.FamilyOf(msg.FormType) {
	case feeds.FamilyOwnership:
		rows, dropped, err = extractOwnership(docs, msg)
	case feeds.FamilyHoldings:
		rows, dropped, err = parseHoldings(text, docs, msg)
	case feeds.FamilyPosition:
		rows, dropped, err = parsePosition(docs, msg)
	case feeds.FamilyProposedSale:
		rows, dropped, err = parseProposedSale(docs, msg)
	default:
		return Extraction{}, fmt.Errorf("%w: %q", ErrUnsupportedForm, msg.FormType)
	}
	if err != nil {
		return Extraction{}, err
	}
	return Extraction{Rows: rows, Dropped: dropped}, nil
}

func extractOwnership(docs []Document, msg types.ParseJobMessage) ([]types.Row, int, error) {
	for _, doc := range docs {
		if ownershipRoot.MatchString(doc.Body) {
			return parseOwnership(doc.Body, msg)
		}
	}
	return nil, 0, ErrNoContent
}
