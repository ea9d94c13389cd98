package items

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParsePrice extracts a decimal amount from a vendor price string.
// The market localises prices freely ("$1.23", "1,23€",
// "1 234,56") so separator roles are inferred from position: when
// both '.' and ',' appear the later one is the decimal mark, and a
// lone separator followed by exactly three digits is read as a
// thousands mark. Unparseable or ambiguous strings report false.
func ParsePrice(raw string) (float64, bool) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if !strings.ContainsAny(s, "0123456789") {
		return 0, false
	}

	dot := strings.LastIndexByte(s, '.')
	comma := strings.LastIndexByte(s, ',')
	var ok bool
	switch {
	case dot >= 0 && comma >= 0:
		if dot > comma {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		}
		if strings.Count(s, ".") > 1 {
			return 0, false
		}
	case dot >= 0:
		if s, ok = resolveLoneSep(s, "."); !ok {
			return 0, false
		}
	case comma >= 0:
		if s, ok = resolveLoneSep(s, ","); !ok {
			return 0, false
		}
		s = strings.Replace(s, ",", ".", 1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}

// resolveLoneSep decides whether the only separator kind present
// marks thousands or decimals. Repeated separators and a trailing
// group of exactly three digits read as thousands; a trailing
// separator with no digits after it is ambiguous.
func resolveLoneSep(s, sep string) (string, bool) {
	if strings.Count(s, sep) > 1 {
		return strings.ReplaceAll(s, sep, ""), true
	}
	tail := s[strings.LastIndex(s, sep)+1:]
	switch {
	case tail == "":
		return "", false
	case len(tail) == 3:
		return strings.ReplaceAll(s, sep, ""), true
	default:
		return s, true
	}
}
