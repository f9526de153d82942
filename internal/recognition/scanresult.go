package recognition

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/labelscan/internal/geometry"
)

var (
	// ErrNotAmbiguous is returned when resolving columns on a result that does not need it.
	ErrNotAmbiguous = errors.New("recognition: scan result has no column ambiguity")
	// ErrAlreadyResolved is returned when a column has already been selected.
	ErrAlreadyResolved = errors.New("recognition: column already selected")
	// ErrInvalidColumn is returned for a column number outside the detected columns.
	ErrInvalidColumn = errors.New("recognition: invalid column")
)

// AmbiguousColumnCount is the column count that requires the user to pick a column.
const AmbiguousColumnCount = 2

// Value is a single amount read from one column of a label line.
type Value struct {
	Amount      float64       `json:"amount"`
	Unit        string        `json:"unit,omitempty"`
	Text        string        `json:"text"`
	BoxID       uuid.UUID     `json:"box_id"`
	BoundingBox geometry.Rect `json:"bounding_box"`
}

// IsZero reports whether the column had no value on this line.
func (v Value) IsZero() bool { return v.Text == "" }

func (v Value) String() string {
	if v.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%g%s", v.Amount, v.Unit)
}

// LineItem is one nutrient row of the label.
type LineItem struct {
	Attribute   Attribute     `json:"attribute"`
	Text        string        `json:"text"`
	BoxID       uuid.UUID     `json:"box_id"`
	BoundingBox geometry.Rect `json:"bounding_box"`
	// Values holds one entry per column; missing cells are zero Values.
	Values []Value `json:"values"`
}

// Column describes one value column of the label.
type Column struct {
	Number int           `json:"number"`
	Header string        `json:"header,omitempty"`
	Span   geometry.Rect `json:"span"`
}

// ScanResult is the structured reading of a nutrition label.
type ScanResult struct {
	ColumnCount int `json:"column_count"`
	// SelectedColumn is 1-based. It stays 0 while a two-column label awaits a decision.
	SelectedColumn int        `json:"selected_column"`
	Columns        []Column   `json:"columns,omitempty"`
	TextBoxes      []TextBox  `json:"text_boxes"`
	LineItems      []LineItem `json:"line_items"`
	Barcodes       []Barcode  `json:"barcodes,omitempty"`
}

// IsAmbiguous reports whether a column decision is still required.
func (r ScanResult) IsAmbiguous() bool {
	return r.ColumnCount == AmbiguousColumnCount && r.SelectedColumn == 0
}

// Resolve returns the result with the given 1-based column selected and the
// result boxes narrowed to that column.
func (r ScanResult) Resolve(column int) (ScanResult, error) {
	if r.ColumnCount != AmbiguousColumnCount {
		return r, ErrNotAmbiguous
	}
	if r.SelectedColumn != 0 {
		return r, ErrAlreadyResolved
	}
	if column < 1 || column > r.ColumnCount {
		return r, fmt.Errorf("%w: %d (label has %d columns)", ErrInvalidColumn, column, r.ColumnCount)
	}
	out := r
	out.SelectedColumn = column
	out.LineItems = append([]LineItem(nil), r.LineItems...)
	out.Columns = append([]Column(nil), r.Columns...)
	out.Barcodes = append([]Barcode(nil), r.Barcodes...)
	out.TextBoxes = resultBoxes(out.LineItems, column)
	return out, nil
}

// Value returns the selected column's value for attr.
func (r ScanResult) Value(attr Attribute) (Value, bool) {
	col := r.SelectedColumn
	if col == 0 {
		col = 1
	}
	for _, item := range r.LineItems {
		if item.Attribute != attr || col > len(item.Values) {
			continue
		}
		v := item.Values[col-1]
		return v, !v.IsZero()
	}
	return Value{}, false
}

// ScanResult derives the structured label reading from the raw text set.
func (s *TextSet) ScanResult() ScanResult {
	if s == nil {
		return ScanResult{ColumnCount: 1, SelectedColumn: 1}
	}

	lines := groupLines(s.Texts)
	items, headers := parseLines(lines)

	spans := columnSpans(items)
	columnCount := max(1, len(spans))

	lineItems := make([]LineItem, 0, len(items))
	for _, it := range items {
		lineItems = append(lineItems, it.toLineItem(spans, columnCount))
	}

	columns := make([]Column, columnCount)
	for i := range columns {
		columns[i].Number = i + 1
		if i < len(spans) {
			columns[i].Span = spans[i]
		}
	}
	for _, h := range headers {
		idx := nearestSpan(spans, h.BoundingBox.MidX())
		if idx < len(columns) && columns[idx].Header == "" {
			columns[idx].Header = h.Text
		}
	}

	result := ScanResult{
		ColumnCount: columnCount,
		Columns:     columns,
		LineItems:   lineItems,
		Barcodes:    append([]Barcode(nil), s.Barcodes...),
	}
	switch {
	case columnCount == AmbiguousColumnCount:
		result.TextBoxes = resultBoxes(lineItems, 0)
	case columnCount > AmbiguousColumnCount:
		result.SelectedColumn = 1
		result.TextBoxes = resultBoxes(lineItems, 0)
	default:
		result.SelectedColumn = 1
		result.TextBoxes = resultBoxes(lineItems, 1)
	}
	return result
}

// resultBoxes lists the label and value boxes of every item. Column 0 keeps all columns.
func resultBoxes(items []LineItem, column int) []TextBox {
	seen := make(map[uuid.UUID]struct{})
	var boxes []TextBox
	add := func(id uuid.UUID, box geometry.Rect, text string) {
		if id == uuid.Nil {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		boxes = append(boxes, newTextBox(id, box, text))
	}
	for _, item := range items {
		add(item.BoxID, item.BoundingBox, item.Text)
		for i, v := range item.Values {
			if v.IsZero() || (column > 0 && i != column-1) {
				continue
			}
			add(v.BoxID, v.BoundingBox, v.Text)
		}
	}
	return boxes
}

type token struct {
	RecognizedText
	norm string
}

// groupLines clusters texts into rows by vertical overlap, top to bottom.
func groupLines(texts []RecognizedText) [][]token {
	tokens := make([]token, 0, len(texts))
	for _, t := range texts {
		t.BoundingBox = t.BoundingBox.Standardized()
		tokens = append(tokens, token{RecognizedText: t, norm: normalizeText(t.Text)})
	}
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].BoundingBox.MidY() < tokens[j].BoundingBox.MidY()
	})

	var lines [][]token
	var lineBox geometry.Rect
	for _, tk := range tokens {
		if len(lines) > 0 && lineBox.VerticalOverlap(tk.BoundingBox) >= 0.5 {
			last := len(lines) - 1
			lines[last] = append(lines[last], tk)
			lineBox = lineBox.Union(tk.BoundingBox)
			continue
		}
		lines = append(lines, []token{tk})
		lineBox = tk.BoundingBox
	}
	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool {
			return line[i].BoundingBox.X < line[j].BoundingBox.X
		})
	}
	return lines
}

type cell struct {
	Value
	// inline marks a value printed in the same text as the attribute label.
	inline bool
}

type parsedItem struct {
	label token
	attr  Attribute
	cells []cell
}

func parseLines(lines [][]token) ([]parsedItem, []RecognizedText) {
	var items []parsedItem
	var headers []RecognizedText
	seen := make(map[Attribute]bool)

	for _, line := range lines {
		labelIdx := -1
		var attr Attribute
		var rest string
		for i, tk := range line {
			if a, r, ok := matchAttribute(tk.norm); ok {
				labelIdx, attr, rest = i, a, r
				break
			}
		}
		if labelIdx < 0 {
			for _, tk := range line {
				if isColumnHeader(tk.norm) {
					headers = append(headers, tk.RecognizedText)
				}
			}
			continue
		}
		if seen[attr] {
			continue
		}

		label := line[labelIdx]
		item := parsedItem{label: label, attr: attr}
		if c, ok := cellFrom(rest, label, attr); ok {
			c.inline = true
			item.cells = append(item.cells, c)
		}
		for _, tk := range line[labelIdx+1:] {
			if c, ok := cellFrom(tk.norm, tk, attr); ok {
				item.cells = append(item.cells, c)
			}
		}
		if len(item.cells) == 0 {
			continue
		}
		seen[attr] = true
		items = append(items, item)
	}
	return items, headers
}

// cellFrom reads the amount for a cell. Daily-value percentages are ignored and
// energy prefers kcal when a cell carries both units.
func cellFrom(text string, tk token, attr Attribute) (cell, bool) {
	var amounts []amount
	for _, a := range parseAmounts(text) {
		if a.unit != "%" {
			amounts = append(amounts, a)
		}
	}
	if len(amounts) == 0 {
		return cell{}, false
	}
	chosen := amounts[0]
	if attr == AttributeEnergy {
		for _, a := range amounts {
			if a.unit == "kcal" {
				chosen = a
				break
			}
		}
	}
	return cell{Value: Value{
		Amount:      chosen.value,
		Unit:        chosen.unit,
		Text:        chosen.text,
		BoxID:       tk.ID,
		BoundingBox: tk.BoundingBox,
	}}, true
}

func (it parsedItem) toLineItem(spans []geometry.Rect, columnCount int) LineItem {
	values := make([]Value, columnCount)
	for _, c := range it.cells {
		idx := 0
		if !c.inline {
			idx = nearestSpan(spans, c.BoundingBox.MidX())
		}
		if idx >= columnCount || !values[idx].IsZero() {
			continue
		}
		values[idx] = c.Value
	}
	return LineItem{
		Attribute:   it.attr,
		Text:        it.label.Text,
		BoxID:       it.label.ID,
		BoundingBox: it.label.BoundingBox,
		Values:      values,
	}
}

// Projection profile parameters for column detection, in normalised units.
const (
	profileBins  = 200
	minColumnGap = 0.02
)

// columnSpans finds value columns from the horizontal projection of value boxes
// that sit apart from their labels. Gaps narrower than minColumnGap are merged.
func columnSpans(items []parsedItem) []geometry.Rect {
	var coverage [profileBins]bool
	covered := false
	for _, it := range items {
		for _, c := range it.cells {
			if c.inline {
				continue
			}
			b := c.BoundingBox
			lo := clampBin(int(math.Floor(b.X * profileBins)))
			hi := clampBin(int(math.Ceil(b.MaxX()*profileBins)) - 1)
			for i := lo; i <= hi; i++ {
				coverage[i] = true
				covered = true
			}
		}
	}
	if !covered {
		return nil
	}

	gapBins := int(math.Ceil(minColumnGap * profileBins))
	var spans []geometry.Rect
	start, lastCovered := -1, -1
	for i := range profileBins {
		if !coverage[i] {
			continue
		}
		if start >= 0 && i-lastCovered-1 >= gapBins {
			spans = append(spans, binSpan(start, lastCovered))
			start = -1
		}
		if start < 0 {
			start = i
		}
		lastCovered = i
	}
	if start >= 0 {
		spans = append(spans, binSpan(start, lastCovered))
	}
	return spans
}

func binSpan(from, to int) geometry.Rect {
	return geometry.Rect{
		X:      float64(from) / profileBins,
		Width:  float64(to-from+1) / profileBins,
		Height: 1,
	}
}

func clampBin(i int) int {
	return min(max(i, 0), profileBins-1)
}

// nearestSpan returns the index of the span containing x, or the closest one.
func nearestSpan(spans []geometry.Rect, x float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, s := range spans {
		if x >= s.X && x <= s.MaxX() {
			return i
		}
		d := math.Min(math.Abs(x-s.X), math.Abs(x-s.MaxX()))
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
