package ingest

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/david/grant-discovery/internal/models"
)

// moneyPattern only matches figures carrying an explicit currency marker, so
// years, phone numbers and counts are never read as amounts.
var moneyPattern = regexp.MustCompile(`(?i)(\$|us\$|usd|€|eur|£|gbp)\s?((?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d{1,2})?)\s*(k|m|million|thousand)?\b`)

var currencyCodes = map[string]string{
	"$": "USD", "us$": "USD", "usd": "USD",
	"€": "EUR", "eur": "EUR",
	"£": "GBP", "gbp": "GBP",
}

// parseAmount extracts a funding range from free text. It returns nil when no
// currency-marked figure is present.
func parseAmount(text string) *models.AmountRange {
	matches := moneyPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	currency := currencyCodes[strings.ToLower(matches[0][1])]
	var amounts []float64
	for _, m := range matches {
		if currencyCodes[strings.ToLower(m[1])] != currency {
			continue
		}
		val, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
		if err != nil || val <= 0 {
			continue
		}
		switch strings.ToLower(m[3]) {
		case "k", "thousand":
			val *= 1_000
		case "m", "million":
			val *= 1_000_000
		}
		amounts = append(amounts, val)
	}
	if len(amounts) == 0 {
		return nil
	}

	if len(amounts) == 1 {
		lower := strings.ToLower(text)
		if strings.Contains(lower, "minimum") || strings.Contains(lower, "at least") {
			return &models.AmountRange{Min: amounts[0], Currency: currency}
		}
		return &models.AmountRange{Max: amounts[0], Currency: currency}
	}

	sort.Float64s(amounts)
	return &models.AmountRange{Min: amounts[0], Max: amounts[len(amounts)-1], Currency: currency}
}
