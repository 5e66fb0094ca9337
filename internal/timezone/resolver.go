// Package timezone maps North American phone numbers to IANA zones by area code.
package timezone

import "strings"

// Unknown is returned for numbers whose area code is not in the table.
// Callers decide the fallback.
const Unknown = ""

type Resolver struct {
	zones map[string]string
}

func NewResolver() *Resolver {
	return &Resolver{zones: areaCodeZones}
}

// Resolve returns the zone of phone's area code, or Unknown.
func (r *Resolver) Resolve(phone string) string {
	ac, ok := AreaCode(phone)
	if !ok {
		return Unknown
	}
	return r.zones[ac]
}

// Digits strips everything but ASCII digits.
func Digits(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for i := 0; i < len(phone); i++ {
		if c := phone[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// National returns the 10-digit NANP national number for a 10-digit number
// or an 11-digit number with a leading 1.
func National(phone string) (string, bool) {
	d := Digits(phone)
	switch {
	case len(d) == 10:
		return d, true
	case len(d) == 11 && d[0] == '1':
		return d[1:], true
	}
	return "", false
}

func AreaCode(phone string) (string, bool) {
	n, ok := National(phone)
	if !ok {
		return "", false
	}
	return n[:3], true
}

// Normalize returns the canonical digits-only 10-digit form used as the
// subscriber identity. Non-NANP input is returned as digits.
func Normalize(phone string) string {
	if n, ok := National(phone); ok {
		return n
	}
	return Digits(phone)
}

// E164 formats a NANP number as +1XXXXXXXXXX.
func E164(phone string) string {
	if n, ok := National(phone); ok {
		return "+1" + n
	}
	return "+" + Digits(phone)
}
