package resource

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/atelierhq/atelier/internal/docstore"
	"github.com/atelierhq/atelier/internal/flatten"
)

// toCSV flattens each document to dotted keys and serializes the set
// with a header covering every key in first-seen order. Missing values
// render as empty cells.
func toCSV(docs []docstore.Document) (string, error) {
	var header []string
	seen := map[string]bool{}
	rows := make([]map[string]any, 0, len(docs))

	for _, doc := range docs {
		flat := flatten.Flatten(doc)
		rows = append(rows, flat)
		for key := range flat {
			if !seen[key] {
				seen[key] = true
				header = append(header, key)
			}
		}
	}

	var buf strings.Builder
	writer := csv.NewWriter(&buf)
	if err := writer.Write(header); err != nil {
		return "", err
	}
	record := make([]string, len(header))
	for _, row := range rows {
		for i, key := range header {
			record[i] = cellValue(row[key])
		}
		if err := writer.Write(record); err != nil {
			return "", err
		}
	}
	writer.Flush()
	return buf.String(), writer.Error()
}

func cellValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprint(v)
	}
}

// fromCSV parses CSV text back into documents, reversing toCSV. Cells
// keep their string form; unflattening restores the nested shape.
func fromCSV(data string) ([]docstore.Document, error) {
	reader := csv.NewReader(strings.NewReader(data))
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	header := records[0]
	docs := make([]docstore.Document, 0, len(records)-1)
	for _, record := range records[1:] {
		flat := map[string]any{}
		for i, key := range header {
			if i < len(record) && record[i] != "" {
				flat[key] = record[i]
			}
		}
		docs = append(docs, docstore.Document(flatten.Unflatten(flat)))
	}
	return docs, nil
}
