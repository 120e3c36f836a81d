package importer

import (
	"time"

	"github.com/shopspring/decimal"
)

// PasswordMode selects where new-member passwords come from during a
// run: a single shared default, or a per-row column in the file.
type PasswordMode string

const (
	PasswordModeDefault PasswordMode = "default"
	PasswordModeFile    PasswordMode = "file"
)

// ImportRow is one raw line of the uploaded file, untouched except for
// cell-to-string conversion. RowNumber is the 1-based spreadsheet line
// (the header is line 1) so operators can find the row in their file.
type ImportRow struct {
	RowNumber  int
	JoinedDate string
	Name       string
	Phone      string
	Email      string
	Location   string
	Points     string
	Password   string
}

// NormalizedRow is a validated ImportRow: phone in canonical +60 form,
// email lowercased, name title-cased, points parsed. Immutable once
// produced by the normalizer.
type NormalizedRow struct {
	RowNumber int
	Name      string
	Phone     string
	Email     string
	Location  string
	JoinedAt  time.Time
	Points    decimal.Decimal
	Password  string

	// DateDefaulted is set when the joined date could not be parsed
	// and was replaced with the import time. Surfaced as a row-level
	// warning in the results.
	DateDefaulted bool

	raw ImportRow
}

// Raw returns the original input row for echoing back in results.
func (n NormalizedRow) Raw() ImportRow { return n.raw }
