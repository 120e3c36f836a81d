package importer

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// emailPattern is the final full check after the structural rules.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// dateLayouts are tried in order when parsing the joined-date cell.
// Workbook exports in this region usually carry DD/MM/YYYY.
var dateLayouts = []string{
	"02/01/2006",
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2/1/2006",
	"02-01-2006",
}

// NormalizeRow validates one raw row and produces its canonical form.
// Validation short-circuits on the first failing rule; the returned
// error is one of the row-level error types and is safe to echo back
// to the operator.
func NormalizeRow(raw ImportRow, mode PasswordMode) (NormalizedRow, error) {
	name := normalizeName(raw.Name)
	if name == "" {
		return NormalizedRow{}, &ValidationError{Field: "name", Reason: "required"}
	}
	phone, err := NormalizePhone(raw.Phone)
	if err != nil {
		return NormalizedRow{}, err
	}
	email, err := NormalizeEmail(raw.Email)
	if err != nil {
		return NormalizedRow{}, err
	}
	points, err := parsePoints(raw.Points)
	if err != nil {
		return NormalizedRow{}, err
	}
	if mode == PasswordModeFile && strings.TrimSpace(raw.Password) == "" {
		return NormalizedRow{}, &ValidationError{Field: "password", Reason: "required in file password mode"}
	}
	joined, defaulted := parseJoinedDate(raw.JoinedDate)

	return NormalizedRow{
		RowNumber:     raw.RowNumber,
		Name:          name,
		Phone:         phone,
		Email:         email,
		Location:      strings.TrimSpace(raw.Location),
		JoinedAt:      joined,
		Points:        points,
		Password:      strings.TrimSpace(raw.Password),
		DateDefaulted: defaulted,
		raw:           raw,
	}, nil
}

// normalizeName trims, collapses internal whitespace and title-cases.
func normalizeName(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		runes := []rune(strings.ToLower(f))
		runes[0] = unicode.ToUpper(runes[0])
		fields[i] = string(runes)
	}
	return strings.Join(fields, " ")
}

// NormalizePhone canonicalizes a Malaysian phone number to +60 form.
// All non-digit characters except a leading plus are stripped, then:
// a leading 0 becomes +60 plus the remainder, a leading 60 gains the
// plus, and anything without a recognizable prefix gets +60 prepended.
// The result must be 12 or 13 characters long.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for i, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" || s == "+" {
		return "", &ValidationError{Field: "phone", Reason: "required"}
	}

	switch {
	case strings.HasPrefix(s, "+60"):
		// already canonical
	case strings.HasPrefix(s, "+"):
		return "", &ValidationError{Field: "phone", Reason: "not a Malaysian number"}
	case strings.HasPrefix(s, "0"):
		s = "+60" + s[1:]
	case strings.HasPrefix(s, "60"):
		s = "+" + s
	default:
		s = "+60" + s
	}

	if len(s) != 12 && len(s) != 13 {
		return "", &ValidationError{Field: "phone", Reason: "invalid length"}
	}
	return s, nil
}

// NormalizeEmail lowercases and validates an email address. Each rule
// fails with its own message so the operator can tell which part of
// the address is wrong.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", &ValidationError{Field: "email", Reason: "required"}
	}
	if strings.Count(email, "@") != 1 {
		return "", &ValidationError{Field: "email", Reason: "must contain exactly one @"}
	}
	at := strings.Index(email, "@")
	local, domain := email[:at], email[at+1:]
	if local == "" {
		return "", &ValidationError{Field: "email", Reason: "missing name before @"}
	}
	if domain == "" {
		return "", &ValidationError{Field: "email", Reason: "missing domain after @"}
	}
	if !strings.Contains(domain, ".") {
		return "", &ValidationError{Field: "email", Reason: "domain has no extension"}
	}
	if !emailPattern.MatchString(email) {
		return "", &ValidationError{Field: "email", Reason: "invalid format"}
	}
	return email, nil
}

// parsePoints parses the points cell as a non-negative decimal. An
// empty cell means zero points.
func parsePoints(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "points", Reason: "not a number"}
	}
	if d.IsNegative() {
		return decimal.Zero, &ValidationError{Field: "points", Reason: "must not be negative"}
	}
	return d, nil
}

// parseJoinedDate tries the known layouts, then an Excel serial
// number. When nothing parses the current instant is used and the
// defaulted flag is set so the row carries a warning instead of
// silently losing the bad value.
func parseJoinedDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Now().UTC(), true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, false
		}
	}
	// Excel stores dates as days since 1899-12-30; raw cell reads can
	// surface them as plain numbers.
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 && serial < 200000 {
		epoch := time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)
		return epoch.Add(time.Duration(serial * 24 * float64(time.Hour))), false
	}
	return time.Now().UTC(), true
}
