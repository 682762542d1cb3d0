package parser

import "strings"

// Canonical transaction categories.
const (
	CategoryPurchase       = "open_market_purchase"
	CategorySale           = "open_market_sale"
	CategoryGrant          = "grant_award"
	CategoryDisposition    = "disposition_to_issuer"
	CategoryTaxWithholding = "tax_withholding"
	CategoryExercise       = "option_exercise"
	CategoryConversion     = "conversion"
	CategoryGift           = "gift"
	CategoryInheritance    = "inheritance"
	CategoryExpiration     = "expiration"
	CategorySwap           = "equity_swap"
	CategoryTender         = "tender_disposition"
	CategoryHolding        = "holding"
	CategoryOther          = "other"
)

// Categories of notice rows.
const (
	CategoryActivistPosition = "activist_position"
	CategoryPassivePosition  = "passive_position"
	CategoryProposedSale     = "proposed_sale"
)

var transactionCategories = map[string]string{
	"P": CategoryPurchase,
	"S": CategorySale,
	"A": CategoryGrant,
	"D": CategoryDisposition,
	"F": CategoryTaxWithholding,
	"M": CategoryExercise,
	"X": CategoryExercise,
	"O": CategoryExercise,
	"C": CategoryConversion,
	"G": CategoryGift,
	"W": CategoryInheritance,
	"E": CategoryExpiration,
	"H": CategoryExpiration,
	"K": CategorySwap,
	"U": CategoryTender,
	"I": CategoryOther,
	"J": CategoryOther,
	"L": CategoryOther,
	"Z": CategoryOther,
}

// CategoryOf maps a raw transaction code to its canonical category.
func CategoryOf(code string) string {
	if c, ok := transactionCategories[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return c
	}
	return CategoryOther
}
