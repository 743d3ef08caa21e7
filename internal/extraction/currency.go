package extraction

import (
	"strings"
	"unicode"
)

// DefaultCurrency is used when nothing on the receipt points elsewhere.
const DefaultCurrency = "USD"

var supportedCurrencies = map[string]struct{}{
	"USD": {}, "EUR": {}, "GBP": {}, "CAD": {}, "AUD": {}, "JPY": {},
	"CHF": {}, "CNY": {}, "INR": {}, "MXN": {}, "NZD": {}, "SGD": {},
}

// Receipts in these currencies print prices with tax already included.
var taxInclusiveCurrencies = map[string]struct{}{
	"EUR": {}, "GBP": {}, "CHF": {}, "AUD": {}, "NZD": {},
}

var currencySymbols = map[string]string{
	"€": "EUR",
	"£": "GBP",
	"¥": "JPY",
	"₹": "INR",
}

type currencyKeyword struct {
	keyword  string
	currency string
}

// Ordered: multi-word places come before their single-word fragments.
var vendorCurrencyKeywords = []currencyKeyword{
	{"new zealand", "NZD"}, {"auckland", "NZD"}, {"wellington", "NZD"}, {"christchurch", "NZD"},
	{"united kingdom", "GBP"}, {"uk", "GBP"}, {"london", "GBP"}, {"manchester", "GBP"},
	{"birmingham", "GBP"}, {"edinburgh", "GBP"}, {"glasgow", "GBP"}, {"england", "GBP"},
	{"scotland", "GBP"}, {"britain", "GBP"}, {"british", "GBP"},
	{"switzerland", "CHF"}, {"swiss", "CHF"}, {"zurich", "CHF"}, {"geneva", "CHF"},
	{"basel", "CHF"}, {"bern", "CHF"},
	{"australia", "AUD"}, {"sydney", "AUD"}, {"melbourne", "AUD"}, {"brisbane", "AUD"},
	{"perth", "AUD"}, {"adelaide", "AUD"},
	{"canada", "CAD"}, {"toronto", "CAD"}, {"vancouver", "CAD"}, {"montreal", "CAD"},
	{"calgary", "CAD"}, {"ottawa", "CAD"},
	{"japan", "JPY"}, {"tokyo", "JPY"}, {"osaka", "JPY"}, {"kyoto", "JPY"},
	{"china", "CNY"}, {"beijing", "CNY"}, {"shanghai", "CNY"}, {"shenzhen", "CNY"},
	{"guangzhou", "CNY"},
	{"india", "INR"}, {"mumbai", "INR"}, {"delhi", "INR"}, {"bangalore", "INR"},
	{"bengaluru", "INR"}, {"chennai", "INR"},
	{"mexico", "MXN"}, {"cancun", "MXN"}, {"guadalajara", "MXN"}, {"monterrey", "MXN"},
	{"singapore", "SGD"},
	{"germany", "EUR"}, {"berlin", "EUR"}, {"munich", "EUR"}, {"france", "EUR"},
	{"paris", "EUR"}, {"spain", "EUR"}, {"madrid", "EUR"}, {"barcelona", "EUR"},
	{"italy", "EUR"}, {"rome", "EUR"}, {"milan", "EUR"}, {"netherlands", "EUR"},
	{"amsterdam", "EUR"}, {"ireland", "EUR"}, {"dublin", "EUR"}, {"austria", "EUR"},
	{"vienna", "EUR"}, {"belgium", "EUR"}, {"brussels", "EUR"}, {"portugal", "EUR"},
	{"lisbon", "EUR"},
}

// IsSupportedCurrency reports whether code is one of the twelve handled currencies.
func IsSupportedCurrency(code string) bool {
	_, ok := supportedCurrencies[code]
	return ok
}

// IsTaxInclusiveByDefault reports whether receipts in this currency usually fold tax into prices.
func IsTaxInclusiveByDefault(code string) bool {
	_, ok := taxInclusiveCurrencies[code]
	return ok
}

// ResolveCurrency always returns a supported code: the raw value when it is one,
// otherwise an inference from the vendor name, otherwise USD.
func ResolveCurrency(raw, vendorName string) string {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if IsSupportedCurrency(code) {
		return code
	}
	if mapped, ok := currencySymbols[strings.TrimSpace(raw)]; ok {
		return mapped
	}
	return InferCurrencyFromVendor(vendorName)
}

// InferCurrencyFromVendor matches whole words of the vendor name against known places.
func InferCurrencyFromVendor(vendorName string) string {
	normalized := " " + normalizeWords(vendorName) + " "
	if strings.TrimSpace(normalized) == "" {
		return DefaultCurrency
	}
	for _, kw := range vendorCurrencyKeywords {
		if strings.Contains(normalized, " "+kw.keyword+" ") {
			return kw.currency
		}
	}
	return DefaultCurrency
}

func normalizeWords(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}
