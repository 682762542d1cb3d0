package parser

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fixtureTxn struct {
	date   string
	code   string
	shares string
	price  string
}

type fixtureOwner struct {
	cik  string
	name string
}

// ownershipXML renders a Form 4 ownership document.
func ownershipXML(owners []fixtureOwner, txns []fixtureTxn) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?>
<ownershipDocument>
  <schemaVersion>X0508</schemaVersion>
  <documentType>4</documentType>
  <periodOfReport>2026-03-02</periodOfReport>
  <issuer>
    <issuerCik>0001234567</issuerCik>
    <issuerName>Example Holdings Inc.</issuerName>
    <issuerTradingSymbol>exhd</issuerTradingSymbol>
  </issuer>
`)
	for _, o := range owners {
		fmt.Fprintf(&b, `  <reportingOwner>
    <reportingOwnerId>
      <rptOwnerCik>%s</rptOwnerCik>
      <rptOwnerName>%s</rptOwnerName>
    </reportingOwnerId>
    <reportingOwnerRelationship>
      <isDirector>0</isDirector>
      <isOfficer>1</isOfficer>
      <officerTitle>Chief Financial Officer</officerTitle>
    </reportingOwnerRelationship>
  </reportingOwner>
`, o.cik, o.name)
	}
	b.WriteString("  <nonDerivativeTable>\n")
	for _, t := range txns {
		fmt.Fprintf(&b, `    <nonDerivativeTransaction>
      <securityTitle><value>Common Stock</value></securityTitle>
      <transactionDate><value>%s</value></transactionDate>
      <transactionCoding>
        <transactionFormType>4</transactionFormType>
        <transactionCode>%s</transactionCode>
        <equitySwapInvolved>0</equitySwapInvolved>
      </transactionCoding>
      <transactionAmounts>
        <transactionShares><value>%s</value></transactionShares>
        <transactionPricePerShare><value>%s</value></transactionPricePerShare>
        <transactionAcquiredDisposedCode><value>D</value></transactionAcquiredDisposedCode>
      </transactionAmounts>
      <postTransactionAmounts>
        <sharesOwnedFollowingTransaction><value>100000</value></sharesOwnedFollowingTransaction>
      </postTransactionAmounts>
      <ownershipNature>
        <directOrIndirectOwnership><value>D</value></directOrIndirectOwnership>
      </ownershipNature>
    </nonDerivativeTransaction>
`, t.date, t.code, t.shares, t.price)
	}
	b.WriteString("  </nonDerivativeTable>\n</ownershipDocument>\n")
	return b.String()
}

// submission wraps documents in a full submission text envelope.
func submission(accession string, docs ...Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<SEC-DOCUMENT>%s.txt : 20260302\n<SEC-HEADER>\nACCESSION NUMBER:\t\t%s\n</SEC-HEADER>\n", accession, accession)
	for i, d := range docs {
		fmt.Fprintf(&b, "<DOCUMENT>\n<TYPE>%s\n<SEQUENCE>%d\n<FILENAME>%s\n<TEXT>\n<XML>\n%s</XML>\n</TEXT>\n</DOCUMENT>\n", d.Type, i+1, d.Filename, d.Body)
	}
	b.WriteString("</SEC-DOCUMENT>\n")
	return b.String()
}

var defaultOwner = []fixtureOwner{{cik: "0001987654", name: "Doe Jane"}}

// spreadTxns returns n sales spread over January to March 2026.
func spreadTxns(n int) []fixtureTxn {
	months := []string{"2026-01", "2026-02", "2026-03"}
	txns := make([]fixtureTxn, n)
	for i := range txns {
		txns[i] = fixtureTxn{
			date:   fmt.Sprintf("%s-%02d", months[i%len(months)], 1+i%28),
			code:   "S",
			shares: fmt.Sprintf("%d", 100+i),
			price:  "50.25",
		}
	}
	return txns
}

func readTestdata(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return string(b)
}
