package parser

import (
	"fmt"
	"regexp"
	"strings"

	"filingbot/types"
)

type informationTable struct {
	Entries []struct {
		NameOfIssuer string `xml:"nameOfIssuer"`
		TitleOfClass string `xml:"titleOfClass"`
		CUSIP        string `xml:"cusip"`
		Value        string `xml:"value"`
		Amount       struct {
			Amount string `xml:"sshPrnamt"`
			Type   string `xml:"sshPrnamtType"`
		} `xml:"shrsOrPrnAmt"`
		PutCall              string `xml:"putCall"`
		InvestmentDiscretion string `xml:"investmentDiscretion"`
	} `xml:"infoTable"`
}

var (
	infoTableRoot = regexp.MustCompile(`<(?:\w+:)?informationTable[\s>]`)
	primaryPeriod = regexp.MustCompile(`<(?:\w+:)?periodOfReport>\s*([^<]+?)\s*<`)
)

// parseHoldings extracts 13F information table rows. The partition date is
// the period of report: from the message, the submission header, the primary
// document, or failing all of those the filing date.
func parseHoldings(raw string, docs []Document, msg types.ParseJobMessage) ([]types.Row, int, error) {
	var table *Document
	for i := range docs {
		if infoTableRoot.MatchString(docs[i].Body) {
			table = &docs[i]
			break
		}
	}
	if table == nil {
		return nil, 0, ErrNoContent
	}

	var info informationTable
	if err := decodeXML(table.Body, &info); err != nil {
		return nil, 0, fmt.Errorf("information table: %w", err)
	}

	period := periodOfReport(raw, docs, msg)
	var (
		rows    []types.Row
		dropped int
	)
	for _, e := range info.Entries {
		value, okValue := requiredNumber(e.Value)
		shares, okShares := requiredNumber(e.Amount.Amount)
		cusip := strings.ToUpper(strings.TrimSpace(e.CUSIP))
		if !okValue || !okShares || cusip == "" {
			dropped++
			continue
		}
		rows = append(rows, types.Holding{
			AccessionNumber:      msg.IdempotencyKey,
			FilerCIK:             trimCIK(msg.SubjectID),
			PeriodOfReport:       period,
			NameOfIssuer:         strings.TrimSpace(e.NameOfIssuer),
			TitleOfClass:         strings.TrimSpace(e.TitleOfClass),
			CUSIP:                cusip,
			Value:                value,
			Shares:               shares,
			ShareType:            strings.ToUpper(strings.TrimSpace(e.Amount.Type)),
			PutCall:              strings.TrimSpace(e.PutCall),
			InvestmentDiscretion: strings.ToUpper(strings.TrimSpace(e.InvestmentDiscretion)),
			FilingDate:           msg.FilingDate,
		})
	}
	return rows, dropped, nil
}

func periodOfReport(raw string, docs []Document, msg types.ParseJobMessage) string {
	if d := normalizeDate(msg.ReportDate); d != "" {
		return d
	}
	if d := HeaderPeriod(raw); d != "" {
		return d
	}
	for _, doc := range docs {
		if m := primaryPeriod.FindStringSubmatch(doc.Body); m != nil {
			if d := normalizeDate(m[1]); d != "" {
				return d
			}
		}
	}
	return msg.FilingDate
}
