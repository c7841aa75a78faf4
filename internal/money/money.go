// Package money converts between integer amounts in the smallest currency unit
// and the text cashiers read and type.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrTooPrecise     = errors.New("amount has more fraction digits than the currency allows")
)

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// currencyLocales picks the locale whose number conventions a currency is
// usually written in.
var currencyLocales = map[string]language.Tag{
	"IDR": language.Indonesian,
	"EUR": language.German,
	"USD": language.AmericanEnglish,
	"GBP": language.BritishEnglish,
	"JPY": language.Japanese,
	"MYR": language.Malay,
	"SGD": language.English,
}

// LocaleFor returns the locale used to group and split amounts in code.
// Unknown codes fall back to English.
func LocaleFor(code string) language.Tag {
	if tag, ok := currencyLocales[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return tag
	}
	return language.English
}

type Formatter struct {
	Code     string
	Symbol   string
	Exponent int32
	// Thousands and Decimal are the grouping and fraction separators of the
	// currency's locale.
	Thousands string
	Decimal   string

	printer *message.Printer
}

// NewFormatter returns a formatter using the number conventions of the locale
// that code is written in.
func NewFormatter(code string, symbol string, exponent int32) Formatter {
	p := message.NewPrinter(LocaleFor(code))
	f := Formatter{
		Code:     strings.ToUpper(code),
		Symbol:   symbol,
		Exponent: exponent,
		printer:  p,
	}
	f.Thousands = strings.TrimSuffix(strings.TrimPrefix(p.Sprintf("%d", 1000), "1"), "000")
	f.Decimal = strings.TrimSuffix(strings.TrimPrefix(p.Sprintf("%.1f", 1.5), "1"), "5")
	return f
}

// Value converts an amount in minor units to its major-unit value.
func (f Formatter) Value(amount int64) decimal.Decimal {
	return decimal.New(amount, -f.Exponent)
}

// Format renders amount with the currency symbol, e.g. "Rp 2.600" or "$26.00".
func (f Formatter) Format(amount int64) string {
	p := f.printer
	if p == nil {
		p = message.NewPrinter(LocaleFor(f.Code))
	}

	value := f.Value(amount)
	sign := ""
	if value.IsNegative() {
		sign = "-"
		value = value.Neg()
	}
	_, frac, _ := strings.Cut(value.StringFixed(f.Exponent), ".")

	var b strings.Builder
	b.WriteString(sign)
	if f.Symbol != "" {
		b.WriteString(f.Symbol)
		if r := []rune(f.Symbol); unicode.IsLetter(r[len(r)-1]) {
			b.WriteByte(' ')
		}
	}
	b.WriteString(p.Sprintf("%d", value.IntPart()))
	if frac != "" {
		b.WriteString(f.Decimal)
		b.WriteString(frac)
	}
	return b.String()
}

// Parse reads a typed amount such as "2.600", "Rp 2.600" or "$1,234.50" into
// minor units.
func (f Formatter) Parse(text string) (int64, error) {
	raw := strings.TrimSpace(text)
	if f.Symbol != "" {
		raw = strings.TrimSpace(strings.TrimPrefix(raw, f.Symbol))
	}
	if f.Code != "" && len(raw) >= len(f.Code) && strings.EqualFold(raw[:len(f.Code)], f.Code) {
		raw = strings.TrimSpace(raw[len(f.Code):])
	}
	if raw == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if strings.HasPrefix(raw, "-") {
		return 0, fmt.Errorf("%w: %q", ErrNegativeAmount, text)
	}

	raw = strings.ReplaceAll(raw, " ", "")
	raw = strings.ReplaceAll(raw, f.Thousands, "")
	if f.Decimal != "." {
		raw = strings.ReplaceAll(raw, f.Decimal, ".")
	}
	for _, r := range raw {
		if r != '.' && !unicode.IsDigit(r) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
		}
	}

	value, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}
	if value.Exponent() < -f.Exponent && !value.Equal(value.Truncate(f.Exponent)) {
		return 0, fmt.Errorf("%w: %q", ErrTooPrecise, text)
	}

	minor := value.Shift(f.Exponent)
	if minor.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("%w: %q is too large", ErrInvalidAmount, text)
	}
	return minor.IntPart(), nil
}
