package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// parseCSV renders each record as one line so a row survives chunking as a
// unit of meaning. A header row, when present, is prefixed to give column
// values their names.
func parseCSV(data []byte) (Parsed, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return Parsed{}, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return Parsed{}, nil
	}

	header := records[0]
	var b strings.Builder
	for i, record := range records {
		if i == 0 {
			b.WriteString(strings.Join(record, ", "))
			b.WriteByte('\n')
			continue
		}
		parts := make([]string, 0, len(record))
		for j, field := range record {
			if j < len(header) && header[j] != "" {
				parts = append(parts, header[j]+": "+field)
			} else {
				parts = append(parts, field)
			}
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteByte('\n')
	}
	return Parsed{Blocks: []string{strings.TrimSpace(b.String())}}, nil
}
