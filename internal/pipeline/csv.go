package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"lead-enricher/internal/enrich"
)

// ReadInputCSV parses the lead list. The header must contain an email column;
// a company column is optional. All input columns are kept on the row so the
// writer can echo them back.
func ReadInputCSV(r io.Reader) ([]enrich.InputRow, []string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read input header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	emailIdx, companyIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(col) {
		case "email":
			emailIdx = i
		case "company", "company_name":
			if companyIdx == -1 {
				companyIdx = i
			}
		}
	}
	if emailIdx == -1 {
		return nil, nil, fmt.Errorf("input is missing an email column (header: %s)", strings.Join(header, ", "))
	}

	var rows []enrich.InputRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read input line %d: %w", line, err)
		}
		fields := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				fields[col] = rec[i]
			} else {
				fields[col] = ""
			}
		}
		row := enrich.InputRow{Email: fields[header[emailIdx]], Fields: fields}
		if companyIdx != -1 {
			row.CompanyName = fields[header[companyIdx]]
		}
		rows = append(rows, row)
	}
	return rows, header, nil
}

// WriteRecordsCSV writes one output line per record, echoing the input
// columns, then the schema columns, then status/error/stale, then every extra
// column seen across the run in sorted order. Two runs over the same records
// produce identical bytes.
func WriteRecordsCSV(w io.Writer, inputHeader []string, schemaColumns []string, records []enrich.Record) error {
	taken := make(map[string]bool, len(inputHeader)+len(schemaColumns)+3)
	for _, col := range inputHeader {
		taken[col] = true
	}
	for _, col := range schemaColumns {
		taken[col] = true
	}
	for _, col := range []string{"status", "error", "stale"} {
		taken[col] = true
	}

	extraSet := make(map[string]bool)
	for _, rec := range records {
		for k := range rec.Extras {
			if !taken[k] {
				extraSet[k] = true
			}
		}
	}
	extraCols := make([]string, 0, len(extraSet))
	for k := range extraSet {
		extraCols = append(extraCols, k)
	}
	sort.Strings(extraCols)

	header := make([]string, 0, len(inputHeader)+len(schemaColumns)+3+len(extraCols))
	header = append(header, inputHeader...)
	header = append(header, schemaColumns...)
	header = append(header, "status", "error", "stale")
	header = append(header, extraCols...)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write output header: %w", err)
	}
	line := make([]string, len(header))
	for _, rec := range records {
		line = line[:0]
		for _, col := range inputHeader {
			line = append(line, rec.Input.Fields[col])
		}
		for _, col := range schemaColumns {
			line = append(line, rec.Values[col])
		}
		line = append(line, rec.Status, rec.Error, strconv.FormatBool(rec.Stale))
		for _, col := range extraCols {
			line = append(line, rec.Extras[col])
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("write output row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
