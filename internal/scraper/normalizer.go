package scraper

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/navid-fn/pricio/internal/models"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// NormalizedRecord is a candidate record with a fixed-point price, a unit and a canonical key.
type NormalizedRecord struct {
	Store        string
	SKU          string
	Name         string
	Brand        string
	Unit         string
	Category     string
	CategoryPath string
	URL          string
	ImageURL     string

	Price        decimal.Decimal
	RegularPrice decimal.NullDecimal
	Currency     string
	Discount     bool

	CanonicalKey string
}

// Normalize validates a candidate record and derives its canonical form.
// Price problems are reported as *PriceFormatError, missing identity as *ParseSkipped.
func Normalize(rec models.CandidateRecord) (NormalizedRecord, error) {
	name := strings.Join(strings.Fields(rec.Name), " ")
	sku := strings.TrimSpace(rec.SKU)
	if sku == "" || name == "" {
		return NormalizedRecord{}, &ParseSkipped{Store: rec.Store, SKU: sku, Reason: "missing sku or name"}
	}

	price, currency, err := ParsePrice(rec.Price, rec.Currency)
	if err != nil {
		return NormalizedRecord{}, err
	}

	out := NormalizedRecord{
		Store:        rec.Store,
		SKU:          sku,
		Name:         name,
		CategoryPath: rec.CategoryPath,
		Category:     topCategory(rec.CategoryPath),
		URL:          rec.URL,
		ImageURL:     rec.ImageURL,
		Price:        price,
		Currency:     currency,
	}

	if rec.PromoPrice != "" {
		promo, _, err := ParsePrice(rec.PromoPrice, currency)
		if err == nil && promo.LessThan(price) {
			out.RegularPrice = decimal.NewNullDecimal(price)
			out.Price = promo
			out.Discount = true
		}
	}

	unit, rest := ExtractUnit(name, rec.UnitText)
	out.Unit = unit

	out.Brand = strings.TrimSpace(rec.Brand)
	if out.Brand == "" {
		out.Brand = ExtractBrand(name)
	}

	out.CanonicalKey = CanonicalKey(rest, out.Brand, unit)
	return out, nil
}

func topCategory(path string) string {
	for _, sep := range []string{" > ", "/"} {
		if i := strings.Index(path, sep); i >= 0 {
			return strings.TrimSpace(path[:i])
		}
	}
	return strings.TrimSpace(path)
}

var (
	spaceReplacer = strings.NewReplacer("\u00a0", " ", "\u2009", " ", "\u202f", " ", "\t", " ")

	// optional leading symbol, digits with separators, optional trailing currency
	priceRe = regexp.MustCompile(`(?i)^([₽$€])?\s*([0-9][0-9 .,]*?)\s*(₽|руб\.?|р\.?|rub|\$|usd|€|eur)?$`)

	// spaces may only separate groups of exactly three digits
	groupedRe = regexp.MustCompile(`^[0-9]{1,3}( [0-9]{3})+([.,][0-9]{1,2})?$`)

	currencyCodes = map[string]string{
		"₽": "RUB", "руб": "RUB", "руб.": "RUB", "р": "RUB", "р.": "RUB", "rub": "RUB",
		"$": "USD", "usd": "USD",
		"€": "EUR", "eur": "EUR",
	}
)

// ParsePrice converts store price text to a fixed-point amount and an ISO currency.
// Spaces are thousand separators and must precede groups of three digits; a single
// '.' or ',' is the decimal separator and must be followed by one or two digits.
// Anything else is rejected rather than guessed.
func ParsePrice(raw, defaultCurrency string) (decimal.Decimal, string, error) {
	s := strings.TrimSpace(spaceReplacer.Replace(raw))
	if s == "" {
		return decimal.Zero, "", &PriceFormatError{Input: raw, Reason: "empty"}
	}

	m := priceRe.FindStringSubmatch(s)
	if m == nil {
		return decimal.Zero, "", &PriceFormatError{Input: raw, Reason: "not a number"}
	}

	currency := defaultCurrency
	for _, token := range []string{m[1], m[3]} {
		if code, ok := currencyCodes[strings.ToLower(token)]; ok {
			currency = code
		}
	}
	if currency == "" {
		currency = "RUB"
	}

	num := strings.Join(strings.Fields(m[2]), " ")
	if strings.Contains(num, " ") {
		if !groupedRe.MatchString(num) {
			return decimal.Zero, "", &PriceFormatError{Input: raw, Reason: "ambiguous: digit groups"}
		}
		num = strings.ReplaceAll(num, " ", "")
	}
	dots, commas := strings.Count(num, "."), strings.Count(num, ",")
	switch {
	case dots > 0 && commas > 0:
		return decimal.Zero, "", &PriceFormatError{Input: raw, Reason: "ambiguous: both '.' and ',' present"}
	case dots+commas > 1:
		return decimal.Zero, "", &PriceFormatError{Input: raw, Reason: "ambiguous: repeated separator"}
	case dots+commas == 1:
		i := strings.IndexAny(num, ".,")
		switch frac := len(num) - i - 1; {
		case frac == 3:
			return decimal.Zero, "", &PriceFormatError{Input: raw, Reason: "ambiguous: thousands or decimal separator"}
		case frac == 0 || frac > 2:
			return decimal.Zero, "", &PriceFormatError{Input: raw, Reason: "unsupported precision"}
		}
		num = strings.Replace(num, ",", ".", 1)
	}

	price, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, "", &PriceFormatError{Input: raw, Reason: "not a number"}
	}
	if !price.IsPositive() {
		return decimal.Zero, "", &PriceFormatError{Input: raw, Reason: "not positive"}
	}
	return price, currency, nil
}

// a measure ends at a non-alphanumeric rune or the end of text
const unitTail = `(?:[^\p{L}\p{N}]|$)`

var (
	mlRe  = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:мл|ml)` + unitTail)
	lRe   = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:литр(?:а|ов)?|л|l)` + unitTail)
	gRe   = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:грамм(?:ов)?|гр|г|g)` + unitTail)
	kgRe  = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:кг|kg)` + unitTail)
	pcsRe = regexp.MustCompile(`(?i)(\d+)\s*(?:штук|шт)\.?` + unitTail)
)

type measureRule struct {
	re     *regexp.Regexp
	suffix string
	factor int64
}

var measureRules = []measureRule{
	{mlRe, "ml", 1},
	{lRe, "ml", 1000},
	{kgRe, "g", 1000},
	{gRe, "g", 1},
}

// ExtractUnit derives a size descriptor such as "930ml", "1000g", "10pcs" or "95gx4".
// unitText is preferred when it carries a measure. The second result is name with
// every measure token removed.
func ExtractUnit(name, unitText string) (string, string) {
	unit := parseMeasure(unitText)
	if unit == "" {
		unit = parseMeasure(name)
	}

	rest := name
	for _, re := range []*regexp.Regexp{pcsRe, mlRe, lRe, kgRe, gRe} {
		rest = re.ReplaceAllString(rest, " ")
	}
	return unit, strings.Join(strings.Fields(rest), " ")
}

func parseMeasure(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	lower := strings.ToLower(text)

	measure := ""
	for _, rule := range measureRules {
		m := rule.re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		v, err := decimal.NewFromString(strings.Replace(m[1], ",", ".", 1))
		if err != nil {
			continue
		}
		measure = v.Mul(decimal.NewFromInt(rule.factor)).String() + rule.suffix
		break
	}

	count := ""
	if m := pcsRe.FindStringSubmatch(lower); m != nil {
		count = m[1]
	}

	switch {
	case measure != "" && count != "":
		return measure + "x" + count
	case measure != "":
		return measure
	case count != "":
		return count + "pcs"
	}
	return ""
}

var latinBrandRe = regexp.MustCompile(`\b([A-Z][a-zA-Z']+(?:\s+[A-Z][a-zA-Z']+)?)\b`)

// knownBrands are matched in lower-cased names when no Latin brand is present.
var knownBrands = []string{
	"простоквашино", "домик в деревне", "вкуснотеево", "савушкин", "брест-литовск",
	"черкизово", "мираторг", "останкино", "велком", "папа может",
	"добрый", "любимый", "фруктовый сад", "моя семья", "макфа", "щебекинские",
	"аленка", "бабаевский", "красный октябрь", "коркунов", "greenfield", "ahmad",
}

// ExtractBrand returns the longest capitalized Latin phrase, else a known Russian brand.
func ExtractBrand(name string) string {
	best := ""
	for _, m := range latinBrandRe.FindAllString(name, -1) {
		if len(m) > len(best) {
			best = m
		}
	}
	if best != "" {
		return best
	}

	lower := strings.ReplaceAll(cases.Lower(language.Russian).String(name), "ё", "е")
	for _, brand := range knownBrands {
		if strings.Contains(lower, brand) && len(brand) > len(best) {
			best = brand
		}
	}
	if best == "" {
		return ""
	}
	return cases.Title(language.Russian).String(best)
}

// CanonicalKey builds the product identity key "name|brand|unit". Text parts are
// NFKC-folded, lower-cased, stripped of punctuation and whitespace-collapsed, and
// the brand is removed from the name so stores that embed it still agree.
func CanonicalKey(name, brand, unit string) string {
	nameKey := normalizeKeyPart(name)
	brandKey := normalizeKeyPart(brand)
	if brandKey != "" {
		nameKey = strings.Join(strings.Fields(strings.ReplaceAll(" "+nameKey+" ", " "+brandKey+" ", " ")), " ")
	}
	return nameKey + "|" + brandKey + "|" + strings.ToLower(unit)
}

func normalizeKeyPart(s string) string {
	s = cases.Lower(language.Russian).String(norm.NFKC.String(s))
	s = strings.ReplaceAll(s, "ё", "е")
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
