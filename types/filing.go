package types

import (
	"regexp"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used on the wire and in the lake.
const DateLayout = "2006-01-02"

var accessionRe = regexp.MustCompile(`^\d{10}-\d{2}-\d{6}$`)

// ValidAccession reports whether s looks like an EDGAR accession number
// (0001213900-26-001445).
func ValidAccession(s string) bool {
	return accessionRe.MatchString(s)
}

// AccessionNoDashes returns the accession number as used in archive paths.
func AccessionNoDashes(accession string) string {
	return strings.ReplaceAll(accession, "-", "")
}

// FilingCandidate is a filing found by a discovery source. It only lives for
// the duration of one discovery run.
type FilingCandidate struct {
	AccessionNumber        string    `json:"accession_number"`
	SubjectCIK             string    `json:"subject_cik"`
	FormType               string    `json:"form_type"`
	FilingDate             time.Time `json:"filing_date"`
	ReportDate             time.Time `json:"report_date,omitempty"`
	CandidateDocumentPaths []string  `json:"candidate_document_paths"`
	// RelatedCIK restricts extraction to rows reported by this owner. The
	// feed that found the filing could not apply the filter itself.
	RelatedCIK string `json:"related_cik,omitempty"`
	Source     string `json:"source"`
}

// Message converts the candidate into the queue payload.
func (c FilingCandidate) Message() ParseJobMessage {
	msg := ParseJobMessage{
		IdempotencyKey:         c.AccessionNumber,
		SubjectID:              c.SubjectCIK,
		CandidateDocumentPaths: append([]string(nil), c.CandidateDocumentPaths...),
		FormType:               c.FormType,
		FilingDate:             c.FilingDate.Format(DateLayout),
		SourceTag:              c.Source,
		RelatedCIK:             c.RelatedCIK,
	}
	if !c.ReportDate.IsZero() {
		msg.ReportDate = c.ReportDate.Format(DateLayout)
	}
	return msg
}

// ParseJobMessage is the work queue payload, one filing per message. It carries
// everything a parser worker needs; workers never look anything else up.
type ParseJobMessage struct {
	IdempotencyKey         string   `json:"idempotencyKey" validate:"required"`
	SubjectID              string   `json:"subjectId" validate:"required,numeric"`
	CandidateDocumentPaths []string `json:"candidateDocumentPaths" validate:"required,min=1,dive,required"`
	FormType               string   `json:"formType" validate:"required"`
	FilingDate             string   `json:"filingDate" validate:"required,datetime=2006-01-02"`
	// SourceTag names the discovery path. Observability only.
	SourceTag  string `json:"sourceTag"`
	ReportDate string `json:"reportDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	RelatedCIK string `json:"relatedCik,omitempty" validate:"omitempty,numeric"`
}

// FilingStatus is the lifecycle state of a FilingRecord.
type FilingStatus string

const (
	StatusDiscovered FilingStatus = "DISCOVERED"
	StatusParsed     FilingStatus = "PARSED"
	StatusError      FilingStatus = "ERROR"
)

// FilingRecord is the canonical "this filing exists" row. Records are
// appended, never updated; the latest RecordedAt per accession number is the
// current status.
type FilingRecord struct {
	AccessionNumber string    `json:"accession_number" parquet:"accession_number"`
	SubjectCIK      string    `json:"subject_cik" parquet:"subject_cik"`
	FormType        string    `json:"form_type" parquet:"form_type"`
	FilingDate      string    `json:"filing_date" parquet:"filing_date"`
	Status          string    `json:"status" parquet:"status"`
	RowCount        int32     `json:"row_count" parquet:"row_count"`
	Detail          string    `json:"detail,omitempty" parquet:"detail,optional"`
	Source          string    `json:"source,omitempty" parquet:"source,optional"`
	RecordedAt      time.Time `json:"recorded_at" parquet:"recorded_at,timestamp(millisecond)"`
}

// NewRecord builds a record for msg in the given status.
func NewRecord(msg ParseJobMessage, status FilingStatus, rows int, detail string) FilingRecord {
	return FilingRecord{
		AccessionNumber: msg.IdempotencyKey,
		SubjectCIK:      msg.SubjectID,
		FormType:        msg.FormType,
		FilingDate:      msg.FilingDate,
		Status:          string(status),
		RowCount:        int32(rows),
		Detail:          detail,
		Source:          msg.SourceTag,
		RecordedAt:      time.Now().UTC(),
	}
}

func (r FilingRecord) Table() string { return TableFilings }
func (r FilingRecord) Key() string   { return r.AccessionNumber }

// PartitionDate places status records by filing date so every status of one
// filing lands in the same partition.
func (r FilingRecord) PartitionDate() time.Time { return parseDate(r.FilingDate) }

// EntityKind distinguishes what a watchlist entry tracks.
type EntityKind string

const (
	KindCompany    EntityKind = "company"
	KindFund       EntityKind = "fund"
	KindIndividual EntityKind = "individual"
)

// WatchlistEntity is a tracked company, fund or individual. An entity may file
// under several registry identifiers; all of them are polled.
type WatchlistEntity struct {
	Name           string     `json:"name" yaml:"name"`
	Kind           EntityKind `json:"kind" yaml:"kind"`
	CIK            string     `json:"cik" yaml:"cik"`
	AdditionalCIKs []string   `json:"additional_ciks,omitempty" yaml:"additional_ciks,omitempty"`
	// RelatedCIK narrows the entity's filings to those reported by one owner.
	RelatedCIK string `json:"related_cik,omitempty" yaml:"related_cik,omitempty"`
	// FormTypes overrides the typed-browse keywords for this entity.
	FormTypes []string `json:"form_types,omitempty" yaml:"form_types,omitempty"`
}

// Identifiers returns the primary and additional CIKs, without duplicates.
func (e WatchlistEntity) Identifiers() []string {
	seen := make(map[string]struct{}, 1+len(e.AdditionalCIKs))
	ids := make([]string, 0, 1+len(e.AdditionalCIKs))
	for _, id := range append([]string{e.CIK}, e.AdditionalCIKs...) {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
