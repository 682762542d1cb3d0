package types

import "time"

// Lake table names.
const (
	TableFilings             = "filings"
	TableInsiderTransactions = "insider_transactions"
	TableHoldings            = "holdings"
	TableOwnershipNotices    = "ownership_notices"
)

// Row is anything the lake writer can place in a partition. The partition is
// derived from the row's own date, never from the time it is written.
type Row interface {
	Table() string
	Key() string
	PartitionDate() time.Time
}

// InsiderTransaction is one line of a Form 3/4/5 ownership table.
type InsiderTransaction struct {
	AccessionNumber   string  `json:"accession_number" parquet:"accession_number"`
	IssuerCIK         string  `json:"issuer_cik" parquet:"issuer_cik"`
	IssuerTicker      string  `json:"issuer_ticker,omitempty" parquet:"issuer_ticker,optional"`
	ReportingOwnerCIK string  `json:"reporting_owner_cik" parquet:"reporting_owner_cik"`
	ReportingOwner    string  `json:"reporting_owner" parquet:"reporting_owner"`
	OwnerRelationship string  `json:"owner_relationship,omitempty" parquet:"owner_relationship,optional"`
	FormType          string  `json:"form_type" parquet:"form_type"`
	SecurityTitle     string  `json:"security_title" parquet:"security_title"`
	Derivative        bool    `json:"derivative" parquet:"derivative"`
	TransactionDate   string  `json:"transaction_date" parquet:"transaction_date"`
	TransactionCode   string  `json:"transaction_code" parquet:"transaction_code"`
	Category          string  `json:"category" parquet:"category"`
	Shares            float64 `json:"shares" parquet:"shares"`
	PricePerShare     float64 `json:"price_per_share" parquet:"price_per_share"`
	AcquiredDisposed  string  `json:"acquired_disposed" parquet:"acquired_disposed"`
	SharesOwnedAfter  float64 `json:"shares_owned_after" parquet:"shares_owned_after"`
	DirectIndirect    string  `json:"direct_indirect,omitempty" parquet:"direct_indirect,optional"`
	FilingDate        string  `json:"filing_date" parquet:"filing_date"`
}

func (t InsiderTransaction) Table() string            { return TableInsiderTransactions }
func (t InsiderTransaction) Key() string              { return t.AccessionNumber }
func (t InsiderTransaction) PartitionDate() time.Time { return parseDate(t.TransactionDate) }

// Holding is one line of a 13F-HR information table.
type Holding struct {
	AccessionNumber      string  `json:"accession_number" parquet:"accession_number"`
	FilerCIK             string  `json:"filer_cik" parquet:"filer_cik"`
	PeriodOfReport       string  `json:"period_of_report" parquet:"period_of_report"`
	NameOfIssuer         string  `json:"name_of_issuer" parquet:"name_of_issuer"`
	TitleOfClass         string  `json:"title_of_class" parquet:"title_of_class"`
	CUSIP                string  `json:"cusip" parquet:"cusip"`
	Value                float64 `json:"value" parquet:"value"`
	Shares               float64 `json:"shares" parquet:"shares"`
	ShareType            string  `json:"share_type" parquet:"share_type"`
	PutCall              string  `json:"put_call,omitempty" parquet:"put_call,optional"`
	InvestmentDiscretion string  `json:"investment_discretion" parquet:"investment_discretion"`
	FilingDate           string  `json:"filing_date" parquet:"filing_date"`
}

func (h Holding) Table() string            { return TableHoldings }
func (h Holding) Key() string              { return h.AccessionNumber }
func (h Holding) PartitionDate() time.Time { return parseDate(h.PeriodOfReport) }

// OwnershipNotice is a large-position disclosure (13D/13G) or a proposed sale
// notice (144).
type OwnershipNotice struct {
	AccessionNumber string  `json:"accession_number" parquet:"accession_number"`
	SubjectCIK      string  `json:"subject_cik" parquet:"subject_cik"`
	FormType        string  `json:"form_type" parquet:"form_type"`
	Category        string  `json:"category" parquet:"category"`
	FilerName       string  `json:"filer_name,omitempty" parquet:"filer_name,optional"`
	IssuerName      string  `json:"issuer_name,omitempty" parquet:"issuer_name,optional"`
	CUSIP           string  `json:"cusip,omitempty" parquet:"cusip,optional"`
	PercentOfClass  float64 `json:"percent_of_class" parquet:"percent_of_class"`
	Shares          float64 `json:"shares" parquet:"shares"`
	MarketValue     float64 `json:"market_value" parquet:"market_value"`
	EventDate       string  `json:"event_date" parquet:"event_date"`
	FilingDate      string  `json:"filing_date" parquet:"filing_date"`
}

func (n OwnershipNotice) Table() string            { return TableOwnershipNotices }
func (n OwnershipNotice) Key() string              { return n.AccessionNumber }
func (n OwnershipNotice) PartitionDate() time.Time { return parseDate(n.EventDate) }

func parseDate(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
