package extractor

import (
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xhad/ragsync/internal/models"
)

// Rows parses CSV content into a header schema and one record per data row,
// for the document_rows table. The first record is treated as the header;
// ragged rows are tolerated and short rows leave trailing columns unset.
func Rows(data []byte) ([]string, []models.TabularRow, error) {
	reader := csv.NewReader(strings.NewReader(decodeUTF8(data)))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	schema := records[0]

	var rows []models.TabularRow
	for _, record := range records[1:] {
		row := make(models.TabularRow, len(schema))
		for i, column := range schema {
			if i < len(record) {
				row[column] = record[i]
			}
		}
		rows = append(rows, row)
	}

	return schema, rows, nil
}
