package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// formatBatchResults formats the batch results in the specified format.
func formatBatchResults(items []Item, format string) (string, error) {
	switch format {
	case "json":
		return formatJSON(items)
	case "csv":
		return formatCSV(items)
	case "text", "":
		return formatText(items), nil
	default:
		return "", fmt.Errorf("unsupported batch format: %s (must be one of: text, json, csv)", format)
	}
}

func formatJSON(items []Item) (string, error) {
	batchResult := struct {
		Labels []Item `json:"labels"`
	}{Labels: items}
	if batchResult.Labels == nil {
		batchResult.Labels = []Item{}
	}

	bts, err := json.MarshalIndent(batchResult, "", "  ")
	return string(bts), err
}

// formatCSV writes one row per line item of the selected column. Files
// without line items get a single row carrying their status.
func formatCSV(items []Item) (string, error) {
	var output strings.Builder
	writer := csv.NewWriter(&output)

	rows := [][]string{{"file", "status", "column_count", "selected_column", "attribute", "amount", "unit", "text"}}
	for _, it := range items {
		columnCount, selected := "", ""
		if it.Result != nil {
			columnCount = strconv.Itoa(it.Result.ColumnCount)
			selected = strconv.Itoa(it.Result.SelectedColumn)
		}
		if it.Result == nil || it.Status != StatusCompleted || len(it.Result.LineItems) == 0 {
			rows = append(rows, []string{it.File, string(it.Status), columnCount, selected, "", "", "", it.Error})
			continue
		}
		for _, li := range it.Result.LineItems {
			v, ok := it.Result.Value(li.Attribute)
			if !ok {
				continue
			}
			rows = append(rows, []string{
				it.File,
				string(it.Status),
				columnCount,
				selected,
				string(li.Attribute),
				strconv.FormatFloat(v.Amount, 'f', -1, 64),
				v.Unit,
				v.Text,
			})
		}
	}

	if err := writer.WriteAll(rows); err != nil {
		return "", err
	}
	return output.String(), nil
}

func formatText(items []Item) string {
	var output strings.Builder
	for i, it := range items {
		if i > 0 {
			output.WriteString("\n")
		}
		fmt.Fprintf(&output, "# %s\n", it.File)
		switch it.Status {
		case StatusFailed:
			fmt.Fprintf(&output, "failed: %s\n", it.Error)
			continue
		case StatusNeedsColumn:
			headers := make([]string, 0, len(it.Columns))
			for _, c := range it.Columns {
				headers = append(headers, strconv.Quote(c.Header))
			}
			fmt.Fprintf(&output, "needs column: %s\n", strings.Join(headers, ", "))
			continue
		}
		if it.Result == nil {
			continue
		}
		fmt.Fprintf(&output, "columns: %d (selected %d)\n", it.Result.ColumnCount, it.Result.SelectedColumn)
		for _, li := range it.Result.LineItems {
			v, ok := it.Result.Value(li.Attribute)
			if !ok {
				continue
			}
			fmt.Fprintf(&output, "%-16s %s\n", li.Attribute, v)
		}
	}
	return output.String()
}
