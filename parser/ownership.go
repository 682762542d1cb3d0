package parser

import (
	"encoding/xml"
	"fmt"
	"strings"

	"filingbot/types"

	"golang.org/x/net/html/charset"
)

type valueNode struct {
	Value string `xml:"value"`
}

type ownershipDocument struct {
	XMLName        xml.Name `xml:"ownershipDocument"`
	DocumentType   string   `xml:"documentType"`
	PeriodOfReport string   `xml:"periodOfReport"`
	Issuer         struct {
		CIK    string `xml:"issuerCik"`
		Name   string `xml:"issuerName"`
		Symbol string `xml:"issuerTradingSymbol"`
	} `xml:"issuer"`
	Owners []struct {
		ID struct {
			CIK  string `xml:"rptOwnerCik"`
			Name string `xml:"rptOwnerName"`
		} `xml:"reportingOwnerId"`
		Relationship struct {
			IsDirector        string `xml:"isDirector"`
			IsOfficer         string `xml:"isOfficer"`
			IsTenPercentOwner string `xml:"isTenPercentOwner"`
			IsOther           string `xml:"isOther"`
			OfficerTitle      string `xml:"officerTitle"`
		} `xml:"reportingOwnerRelationship"`
	} `xml:"reportingOwner"`
	NonDerivative struct {
		Transactions []ownershipEntry `xml:"nonDerivativeTransaction"`
		Holdings     []ownershipEntry `xml:"nonDerivativeHolding"`
	} `xml:"nonDerivativeTable"`
	Derivative struct {
		Transactions []ownershipEntry `xml:"derivativeTransaction"`
		Holdings     []ownershipEntry `xml:"derivativeHolding"`
	} `xml:"derivativeTable"`
}

type ownershipEntry struct {
	SecurityTitle   valueNode `xml:"securityTitle"`
	TransactionDate valueNode `xml:"transactionDate"`
	Coding          struct {
		Code string `xml:"transactionCode"`
	} `xml:"transactionCoding"`
	Amounts struct {
		Shares           valueNode `xml:"transactionShares"`
		PricePerShare    valueNode `xml:"transactionPricePerShare"`
		AcquiredDisposed valueNode `xml:"transactionAcquiredDisposedCode"`
	} `xml:"transactionAmounts"`
	PostAmounts struct {
		SharesOwned valueNode `xml:"sharesOwnedFollowingTransaction"`
	} `xml:"postTransactionAmounts"`
	Nature struct {
		DirectIndirect valueNode `xml:"directOrIndirectOwnership"`
	} `xml:"ownershipNature"`
}

// parseOwnership extracts transaction rows from a Form 3/4/5 ownership
// document. Initial statements (Form 3) report holdings instead of
// transactions; those become rows dated at the period of report.
func parseOwnership(body string, msg types.ParseJobMessage) ([]types.Row, int, error) {
	var doc ownershipDocument
	if err := decodeXML(body, &doc); err != nil {
		return nil, 0, fmt.Errorf("ownership document: %w", err)
	}

	owner, relationship, ok := selectOwner(doc, msg.RelatedCIK)
	if !ok {
		// None of the reporting owners is the one this filing was found for.
		return nil, 0, nil
	}

	base := types.InsiderTransaction{
		AccessionNumber:   msg.IdempotencyKey,
		IssuerCIK:         trimCIK(doc.Issuer.CIK),
		IssuerTicker:      strings.ToUpper(strings.TrimSpace(doc.Issuer.Symbol)),
		ReportingOwnerCIK: trimCIK(owner.CIK),
		ReportingOwner:    strings.TrimSpace(owner.Name),
		OwnerRelationship: relationship,
		FormType:          msg.FormType,
		FilingDate:        msg.FilingDate,
	}

	var (
		rows    []types.Row
		dropped int
	)
	add := func(e ownershipEntry, derivative, holding bool) {
		row, ok := ownershipRow(base, e, derivative, holding, normalizeDate(doc.PeriodOfReport))
		if !ok {
			dropped++
			return
		}
		rows = append(rows, row)
	}
	for _, e := range doc.NonDerivative.Transactions {
		add(e, false, false)
	}
	for _, e := range doc.Derivative.Transactions {
		add(e, true, false)
	}
	if len(doc.NonDerivative.Transactions)+len(doc.Derivative.Transactions) == 0 {
		for _, e := range doc.NonDerivative.Holdings {
			add(e, false, true)
		}
		for _, e := range doc.Derivative.Holdings {
			add(e, true, true)
		}
	}
	return rows, dropped, nil
}

func ownershipRow(base types.InsiderTransaction, e ownershipEntry, derivative, holding bool, period string) (types.InsiderTransaction, bool) {
	row := base
	row.SecurityTitle = strings.TrimSpace(e.SecurityTitle.Value)
	row.Derivative = derivative
	row.DirectIndirect = strings.TrimSpace(e.Nature.DirectIndirect.Value)

	owned, ok := optionalNumber(e.PostAmounts.SharesOwned.Value)
	if !ok {
		return row, false
	}
	row.SharesOwnedAfter = owned

	if holding {
		row.TransactionDate = period
		row.Category = CategoryHolding
		return row, row.TransactionDate != ""
	}

	row.TransactionDate = normalizeDate(e.TransactionDate.Value)
	if row.TransactionDate == "" {
		return row, false
	}
	shares, ok := requiredNumber(e.Amounts.Shares.Value)
	if !ok {
		return row, false
	}
	price, ok := optionalNumber(e.Amounts.PricePerShare.Value)
	if !ok {
		return row, false
	}
	row.Shares = shares
	row.PricePerShare = price
	row.TransactionCode = strings.ToUpper(strings.TrimSpace(e.Coding.Code))
	row.Category = CategoryOf(row.TransactionCode)
	row.AcquiredDisposed = strings.ToUpper(strings.TrimSpace(e.Amounts.AcquiredDisposed.Value))
	return row, true
}

type ownerID struct {
	CIK  string
	Name string
}

// selectOwner picks the reporting owner rows are attributed to. With a
// related CIK only that owner qualifies; otherwise the first one does.
func selectOwner(doc ownershipDocument, related string) (ownerID, string, bool) {
	for _, o := range doc.Owners {
		if related != "" && trimCIK(o.ID.CIK) != trimCIK(related) {
			continue
		}
		return ownerID{CIK: o.ID.CIK, Name: o.ID.Name}, relationshipOf(o.Relationship.IsDirector, o.Relationship.IsOfficer,
			o.Relationship.IsTenPercentOwner, o.Relationship.IsOther, o.Relationship.OfficerTitle), true
	}
	if related == "" && len(doc.Owners) == 0 {
		return ownerID{}, "", true
	}
	return ownerID{}, "", false
}

func relationshipOf(director, officer, tenPercent, other, title string) string {
	var parts []string
	if isTrue(director) {
		parts = append(parts, "director")
	}
	if isTrue(officer) {
		if t := strings.TrimSpace(title); t != "" {
			parts = append(parts, "officer: "+t)
		} else {
			parts = append(parts, "officer")
		}
	}
	if isTrue(tenPercent) {
		parts = append(parts, "ten_percent_owner")
	}
	if isTrue(other) {
		parts = append(parts, "other")
	}
	return strings.Join(parts, "; ")
}

func decodeXML(body string, v any) error {
	dec := xml.NewDecoder(strings.NewReader(body))
	dec.Strict = false
	dec.CharsetReader = charset.NewReaderLabel
	return dec.Decode(v)
}
