package recognition

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	folder        = cases.Fold()
	whitespaceRun = regexp.MustCompile(`\s+`)
	// amount with an optional unit, e.g. "12g", "1 046 kJ" is read as two numbers.
	amountPattern = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(kcal|kj|mcg|µg|μg|mg|g|%)?`)
)

// normalizeText folds case and compatibility forms so label text can be matched
// against attribute synonyms.
func normalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = folder.String(s)
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

type amount struct {
	value float64
	unit  string
	text  string
	// start is the byte offset of the match within the normalised text.
	start int
}

// parseAmounts extracts every number (with unit, if any) from normalised text.
func parseAmounts(s string) []amount {
	matches := amountPattern.FindAllStringSubmatchIndex(s, -1)
	out := make([]amount, 0, len(matches))
	for _, m := range matches {
		raw := strings.ReplaceAll(s[m[2]:m[3]], ",", ".")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		unit := ""
		if m[4] >= 0 {
			unit = s[m[4]:m[5]]
			if unit == "µg" || unit == "μg" {
				unit = "mcg"
			}
		}
		out = append(out, amount{value: v, unit: unit, text: strings.TrimSpace(s[m[0]:m[1]]), start: m[0]})
	}
	return out
}

// ParseQuantity returns the first amount in s and its unit, e.g. 100 and "g"
// for "per 100 g".
func ParseQuantity(s string) (float64, string, bool) {
	as := parseAmounts(normalizeText(s))
	if len(as) == 0 {
		return 0, "", false
	}
	return as[0].value, as[0].unit, true
}
