package negotiation

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"xianyuagent/app/config"

	"github.com/elliotchance/pie/v2"
)

var (
	amountPattern  = regexp.MustCompile(`\d+(?:\.\d+)?`)
	groupSeparator = regexp.MustCompile(`(\d),(\d{3})`)
)

// OfferParser finds the amount a buyer proposes. A number counts only with a
// currency marker next to it, a price word nearby, or as the whole message.
// Numbers glued to units or model names never count.
type OfferParser struct {
	currencyPrefixes []string
	currencySuffixes []string
	priceWords       []string
	units            []string
	window           int
}

func NewOfferParser(g config.OfferGrammar) *OfferParser {
	lower := func(words []string) []string {
		words = pie.Map(words, func(w string) string {
			return strings.ToLower(strings.TrimSpace(w))
		})
		return pie.Filter(words, func(w string) bool { return w != "" })
	}

	return &OfferParser{
		currencyPrefixes: lower(g.CurrencyPrefixes),
		currencySuffixes: lower(g.CurrencySuffixes),
		priceWords:       lower(g.PriceWords),
		units:            lower(g.UnitSuffixes),
		window:           max(g.Window, 0),
	}
}

// Parse returns the first amount in text that reads as an offer.
func (p *OfferParser) Parse(text string) (float64, bool) {
	text = strings.ToLower(text)
	for prev := ""; prev != text; {
		prev = text
		text = groupSeparator.ReplaceAllString(text, "$1$2")
	}

	for _, loc := range amountPattern.FindAllStringIndex(text, -1) {
		if !p.isOffer(text[:loc[0]], text[loc[1]:]) {
			continue
		}

		amount, err := strconv.ParseFloat(text[loc[0]:loc[1]], 64)
		if err != nil {
			continue
		}

		return amount, true
	}

	return 0, false
}

func (p *OfferParser) isOffer(before, after string) bool {
	left := strings.TrimRightFunc(before, unicode.IsSpace)
	right := strings.TrimLeftFunc(after, unicode.IsSpace)

	if pie.Any(p.currencyPrefixes, func(m string) bool { return strings.HasSuffix(left, m) }) ||
		pie.Any(p.currencySuffixes, func(m string) bool { return strings.HasPrefix(right, m) }) {
		return true
	}

	if p.isQuantity(after) || p.isModel(before) {
		return false
	}

	if isFiller(before) && isFiller(after) {
		return true
	}

	return pie.Any(p.priceWords, func(w string) bool {
		n := len([]rune(w)) + p.window
		return strings.Contains(lastRunes(before, n), w) || strings.Contains(firstRunes(after, n), w)
	})
}

// isQuantity reports a unit or model suffix: "128g", "2 个", "13pro".
func (p *OfferParser) isQuantity(after string) bool {
	if leadingLatin(after) != "" {
		return true
	}

	right := strings.TrimLeftFunc(after, unicode.IsSpace)
	word := leadingLatin(right)

	return pie.Any(p.units, func(unit string) bool {
		if isLatin(unit) {
			return word == unit
		}
		return strings.HasPrefix(right, unit)
	})
}

// isModel reports a number that belongs to a product name: "iphone 13",
// "mate60". Price words such as "offer 80" are not names.
func (p *OfferParser) isModel(before string) bool {
	if trailingLatin(before) != "" {
		return true
	}

	word := trailingLatin(strings.TrimRightFunc(before, unicode.IsSpace))
	if word == "" {
		return false
	}

	return !pie.Any(p.priceWords, func(w string) bool {
		return w == word || strings.HasSuffix(w, " "+word)
	})
}

func isFiller(s string) bool {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	}) == ""
}

func isLatinLetter(r rune) bool {
	return r < unicode.MaxASCII && unicode.IsLetter(r)
}

func isLatin(s string) bool {
	return s != "" && strings.IndexFunc(s, func(r rune) bool { return !isLatinLetter(r) }) < 0
}

func leadingLatin(s string) string {
	return s[:len(s)-len(strings.TrimLeftFunc(s, isLatinLetter))]
}

func trailingLatin(s string) string {
	return s[len(strings.TrimRightFunc(s, isLatinLetter)):]
}

func lastRunes(s string, n int) string {
	r := []rune(s)
	return string(r[max(len(r)-n, 0):])
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	return string(r[:min(n, len(r))])
}
