package shared

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var moneyPrinter = message.NewPrinter(language.English)

// FormatAmount renders a rupee amount with grouping for report strings and
// audit metadata, e.g. 125000 -> "Rs 1,25,000.00" style grouping is locale
// dependent; English grouping keeps output stable across hosts.
func FormatAmount(amount float64) string {
	return moneyPrinter.Sprintf("Rs %.2f", amount)
}
