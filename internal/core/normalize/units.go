package normalize

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var ErrUnparseable = errors.New("unparseable value")

const (
	gramsPerOunce     = 28.349523125
	gramsPerPound     = 453.59237
	litersPerCubicInc = 0.016387064
)

// Currency conversion to USD. Static rates; prices are indicative only.
var usdRates = map[string]float64{
	"usd": 1,
	"eur": 1.08,
	"gbp": 1.27,
	"cad": 0.73,
	"aud": 0.66,
	"chf": 1.12,
}

var (
	numberRe  = regexp.MustCompile(`-?\d+(?:[.,]\d+)*`)
	weightRe  = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(kilograms?|kgs?|grams?|gr|g|ounces?|oz|pounds?|lbs?|#)`)
	volumeRe  = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(cubic\s*inch(?:es)?|cu\.?\s*in\.?|ci|milliliters?|ml|liters?|litres?|l)?`)
	tempRe    = regexp.MustCompile(`(-?\d+(?:[.,]\d+)?)\s*(?:°|deg(?:rees)?)?\s*([fc])?\b`)
	currencyR = regexp.MustCompile(`(?i)(usd|eur|gbp|cad|aud|chf|\$|€|£)`)
	parenRe   = regexp.MustCompile(`\([^)]*\)`)
)

// primary drops parenthesised and slash-separated alternates:
// "1.2 kg (2.6 lb)" and "2.6 lb / 1.2 kg" keep only the first quantity.
func primary(s string) string {
	s = parenRe.ReplaceAllString(s, " ")
	if i := strings.Index(s, "/"); i > 0 && !strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "n/a") {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func stringify(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// parseDecimal accepts "1,299.00", "1.299,00", "129,95" and "1,299".
func parseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 != 3 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}
	return f, nil
}

// ParseNumber extracts the first number in raw ("900 fill" -> 900).
func ParseNumber(raw any) (float64, error) {
	if f, ok := raw.(float64); ok {
		return f, nil
	}
	s := stringify(raw)
	m := numberRe.FindString(s)
	if m == "" {
		return 0, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}
	return parseDecimal(m)
}

// ParseWeight converts raw to grams. Compound values such as "2 lb 3 oz"
// are summed; a bare number is taken as grams.
func ParseWeight(raw any) (float64, error) {
	s := strings.ToLower(primary(stringify(raw)))
	matches := weightRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		f, err := ParseNumber(s)
		if err != nil {
			return 0, err
		}
		return nonNegative(f, s)
	}
	total := 0.0
	for _, m := range matches {
		n, err := parseDecimal(m[1])
		if err != nil {
			return 0, err
		}
		switch unit := m[2]; {
		case strings.HasPrefix(unit, "k"):
			total += n * 1000
		case unit == "oz" || strings.HasPrefix(unit, "ounce"):
			total += n * gramsPerOunce
		case unit == "#" || strings.HasPrefix(unit, "lb") || strings.HasPrefix(unit, "pound"):
			total += n * gramsPerPound
		default:
			total += n
		}
	}
	return nonNegative(round(total, 1), s)
}

// ParsePrice converts raw to USD using static rates; no currency means USD.
func ParsePrice(raw any) (float64, error) {
	s := primary(stringify(raw))
	currency := "usd"
	if m := currencyR.FindString(s); m != "" {
		switch strings.ToLower(m) {
		case "$":
			currency = "usd"
		case "€":
			currency = "eur"
		case "£":
			currency = "gbp"
		default:
			currency = strings.ToLower(m)
		}
	}
	n := numberRe.FindString(s)
	if n == "" {
		return 0, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}
	f, err := parseDecimal(n)
	if err != nil {
		return 0, err
	}
	return nonNegative(round(f*usdRates[currency], 2), s)
}

// ParseVolume converts raw to liters; a bare number is taken as liters.
func ParseVolume(raw any) (float64, error) {
	s := strings.ToLower(primary(stringify(raw)))
	m := volumeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}
	n, err := parseDecimal(m[1])
	if err != nil {
		return 0, err
	}
	unit := m[2]
	switch {
	case strings.HasPrefix(unit, "cu") || unit == "ci":
		n *= litersPerCubicInc
	case unit == "ml" || strings.HasPrefix(unit, "milli"):
		n /= 1000
	}
	return nonNegative(round(n, 2), s)
}

// ParseTemperature returns the rating in Fahrenheit and, when the input was
// given in Celsius, the original Celsius value. A bare number is Fahrenheit.
func ParseTemperature(raw any) (float64, *float64, error) {
	s := strings.ToLower(primary(stringify(raw)))
	m := tempRe.FindStringSubmatch(s)
	if m == nil {
		return 0, nil, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}
	n, err := parseDecimal(m[1])
	if err != nil {
		return 0, nil, err
	}
	if m[2] == "c" {
		c := n
		return round(CelsiusToF(c), 1), &c, nil
	}
	return n, nil, nil
}

func CelsiusToF(c float64) float64 {
	return c*9/5 + 32
}

func nonNegative(f float64, s string) (float64, error) {
	if f < 0 {
		return 0, fmt.Errorf("%w: negative quantity %q", ErrUnparseable, s)
	}
	return f, nil
}

func round(f float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(f*p) / p
}
