package settlement

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var displayPrinter = message.NewPrinter(language.English)

// FormatAmount renders an amount for display: two decimal places, grouped
// digits, currency code prefix. The engine keeps full precision internally;
// this is the only place values round.
func FormatAmount(amount decimal.Decimal, currency string) string {
	f, _ := amount.Round(2).Float64()
	return displayPrinter.Sprintf("%s %.2f", currency, f)
}
