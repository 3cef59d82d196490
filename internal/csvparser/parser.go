// Package csvparser turns uploaded CSV files into lead pool entries.
package csvparser

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"time"
)

// DefaultMaxRows bounds a single import when the caller gives no limit.
const DefaultMaxRows = 10000

// LeadRow is one contact extracted from a CSV. Email is required; the
// well-known columns are matched case-insensitively and everything else
// lands in Fields.
type LeadRow struct {
	Email      string
	FirstName  string
	LastName   string
	Phone      string
	Country    string
	IP         string
	Offer      string
	Source     string
	SourceDate *time.Time
	Fields     map[string]string
}

// ParseLeadRows parses a CSV from an io.Reader. The CSV must contain a
// header row with an "email" column (case-insensitive). maxRows limits
// how many data rows are parsed, excluding the header.
func ParseLeadRows(r io.Reader, maxRows int) ([]LeadRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return nil, errors.New("csv header row is empty")
	}

	normalized := make([]string, len(headers))
	emailIdx := -1
	for i, h := range headers {
		h = strings.ToLower(strings.TrimSpace(h))
		normalized[i] = h
		if h == "email" {
			emailIdx = i
		}
	}
	if emailIdx == -1 {
		return nil, errors.New("csv must contain an email column")
	}

	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	rows := make([]LeadRow, 0)
	for len(rows) < maxRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) != len(headers) {
			// skip malformed row
			continue
		}

		email := strings.TrimSpace(record[emailIdx])
		if email == "" {
			continue
		}

		row := LeadRow{Email: email, Fields: map[string]string{}}
		for i, value := range record {
			value = strings.TrimSpace(value)
			switch normalized[i] {
			case "email":
			case "first_name":
				row.FirstName = value
			case "last_name":
				row.LastName = value
			case "phone":
				row.Phone = value
			case "country":
				row.Country = strings.ToUpper(value)
			case "ip":
				row.IP = value
			case "offer":
				row.Offer = value
			case "source":
				row.Source = value
			case "source_date":
				if value != "" {
					if t, err := parseDate(value); err == nil {
						row.SourceDate = &t
					}
				}
			default:
				if normalized[i] != "" && value != "" {
					row.Fields[normalized[i]] = value
				}
			}
		}

		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, errors.New("csv must contain at least one data row")
	}

	return rows, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognized date format")
}
