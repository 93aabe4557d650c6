// Package money formats Naira amounts for display.
package money

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatNaira renders d in whole Naira with thousands separators, e.g.
// ₦12,346. Amounts are rounded half away from zero for display only.
func FormatNaira(d decimal.Decimal) string {
	rounded := d.Round(0)
	s := "₦" + printer.Sprintf("%d", rounded.Abs().IntPart())
	if rounded.IsNegative() {
		return "-" + s
	}
	return s
}
