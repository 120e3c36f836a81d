package importer

import (
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Fixed column order of the upload: joined-date, name, phone, email,
// location, points, optional password (used only in file password
// mode). Row 1 is the header and is skipped.
const (
	colJoinedDate = iota
	colName
	colPhone
	colEmail
	colLocation
	colPoints
	colPassword
)

// ReadRows parses the uploaded workbook into raw import rows. It
// accepts .xlsx (first sheet) and .csv. Parse failures are fatal: the
// whole run aborts before any row is processed.
func ReadRows(r io.Reader, filename string) ([]ImportRow, error) {
	var records [][]string
	if strings.ToLower(filepath.Ext(filename)) == ".csv" {
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1 // password column is optional
		all, err := cr.ReadAll()
		if err != nil {
			return nil, &FatalError{Reason: "could not parse csv file", cause: err}
		}
		records = all
	} else {
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, &FatalError{Reason: "could not open workbook", cause: err}
		}
		defer f.Close()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, &FatalError{Reason: "workbook has no sheets"}
		}
		records, err = f.GetRows(sheets[0])
		if err != nil {
			return nil, &FatalError{Reason: "could not read workbook rows", cause: err}
		}
	}

	rows := make([]ImportRow, 0, len(records))
	for i, rec := range records {
		if i == 0 {
			continue // header
		}
		if blankRecord(rec) {
			continue
		}
		rows = append(rows, ImportRow{
			RowNumber:  i + 1, // 1-based spreadsheet line, header is line 1
			JoinedDate: cell(rec, colJoinedDate),
			Name:       cell(rec, colName),
			Phone:      cell(rec, colPhone),
			Email:      cell(rec, colEmail),
			Location:   cell(rec, colLocation),
			Points:     cell(rec, colPoints),
			Password:   cell(rec, colPassword),
		})
	}
	if len(rows) == 0 {
		return nil, &FatalError{Reason: "file contains no data rows"}
	}
	return rows, nil
}

func cell(rec []string, i int) string {
	if i < len(rec) {
		return strings.TrimSpace(rec[i])
	}
	return ""
}

func blankRecord(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
