// Package form holds the state of a food entry being created: the field values
// and the sources (scanned images, links) backing them. Instances are created
// by the caller and passed to whatever needs them.
package form

import (
	"maps"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/labelscan/internal/recognition"
)

// FillType records where a field value came from.
type FillType string

const (
	FillUser    FillType = "user"
	FillScanned FillType = "scanned"
	FillPrefill FillType = "prefill"
)

// Field is a numeric field with its provenance.
type Field struct {
	Amount float64   `json:"amount" yaml:"amount"`
	Unit   string    `json:"unit,omitempty" yaml:"unit,omitempty"`
	Fill   FillType  `json:"fill,omitempty" yaml:"fill,omitempty"`
	BoxID  uuid.UUID `json:"box_id,omitzero" yaml:"-"`
	set    bool
}

// IsEmpty reports whether the field has no value.
func (f Field) IsEmpty() bool { return !f.set }

// UserField returns a field entered by the user.
func UserField(amount float64, unit string) Field {
	return Field{Amount: amount, Unit: unit, Fill: FillUser, set: true}
}

// Barcode is a barcode attached to the food.
type Barcode struct {
	Payload string `json:"payload" yaml:"payload"`
	Format  string `json:"format" yaml:"format"`
}

// Values is a snapshot of the form fields.
type Values struct {
	Name           string                          `json:"name" yaml:"name"`
	Emoji          string                          `json:"emoji,omitempty" yaml:"emoji,omitempty"`
	Detail         string                          `json:"detail,omitempty" yaml:"detail,omitempty"`
	Brand          string                          `json:"brand,omitempty" yaml:"brand,omitempty"`
	Amount         Field                           `json:"amount" yaml:"amount"`
	Serving        Field                           `json:"serving" yaml:"serving"`
	Energy         Field                           `json:"energy" yaml:"energy"`
	Carb           Field                           `json:"carb" yaml:"carb"`
	Fat            Field                           `json:"fat" yaml:"fat"`
	Protein        Field                           `json:"protein" yaml:"protein"`
	Micronutrients map[recognition.Attribute]Field `json:"micronutrients,omitempty" yaml:"micronutrients,omitempty"`
	Barcodes       []Barcode                       `json:"barcodes,omitempty" yaml:"barcodes,omitempty"`
	Prefilled      bool                            `json:"prefilled,omitempty" yaml:"prefilled,omitempty"`
}

func (v Values) clone() Values {
	out := v
	out.Micronutrients = maps.Clone(v.Micronutrients)
	out.Barcodes = append([]Barcode(nil), v.Barcodes...)
	return out
}

// Fields is the mutable field state of one form. It is safe for concurrent use.
type Fields struct {
	mu sync.RWMutex
	v  Values
}

// NewFields returns empty fields.
func NewFields() *Fields { return &Fields{} }

// Values returns a snapshot of the fields.
func (f *Fields) Values() Values {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.v.clone()
}

// Update applies fn to the fields under the lock.
func (f *Fields) Update(fn func(*Values)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.v)
}

// ApplyScanResult fills fields from the selected column of a scan result.
// Fields entered by the user are kept. It returns the number of fields set.
func (f *Fields) ApplyScanResult(r recognition.ScanResult) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	fill := func(dst *Field, attr recognition.Attribute) {
		v, ok := r.Value(attr)
		if !ok || (dst.Fill == FillUser && dst.set) {
			return
		}
		*dst = Field{Amount: v.Amount, Unit: v.Unit, Fill: FillScanned, BoxID: v.BoxID, set: true}
		n++
	}

	fill(&f.v.Energy, recognition.AttributeEnergy)
	fill(&f.v.Carb, recognition.AttributeCarbohydrate)
	fill(&f.v.Fat, recognition.AttributeFat)
	fill(&f.v.Protein, recognition.AttributeProtein)
	fill(&f.v.Serving, recognition.AttributeServingAmount)

	if f.v.Amount.IsEmpty() {
		if amount, ok := columnAmount(r); ok {
			f.v.Amount = amount
			n++
		}
	}

	for _, item := range r.LineItems {
		if !item.Attribute.IsMicronutrient() {
			continue
		}
		if existing, ok := f.v.Micronutrients[item.Attribute]; ok && existing.Fill == FillUser {
			continue
		}
		var dst Field
		fill(&dst, item.Attribute)
		if dst.IsEmpty() {
			continue
		}
		if f.v.Micronutrients == nil {
			f.v.Micronutrients = make(map[recognition.Attribute]Field)
		}
		f.v.Micronutrients[item.Attribute] = dst
	}

	for _, b := range r.Barcodes {
		if addBarcode(&f.v, Barcode{Payload: b.Payload, Format: b.Format}) {
			n++
		}
	}
	return n
}

// columnAmount reads the reference amount from the selected column header,
// e.g. 100 g for "per 100g". Headers without a quantity mean one serving.
func columnAmount(r recognition.ScanResult) (Field, bool) {
	col := r.SelectedColumn
	if col < 1 || col > len(r.Columns) {
		return Field{}, false
	}
	header := r.Columns[col-1].Header
	if header == "" {
		return Field{}, false
	}
	if amount, unit, ok := recognition.ParseQuantity(header); ok {
		return Field{Amount: amount, Unit: unit, Fill: FillScanned, set: true}, true
	}
	if strings.Contains(strings.ToLower(header), "serving") {
		return Field{Amount: 1, Unit: "serving", Fill: FillScanned, set: true}, true
	}
	return Field{}, false
}

func addBarcode(v *Values, b Barcode) bool {
	for _, existing := range v.Barcodes {
		if existing.Payload == b.Payload {
			return false
		}
	}
	v.Barcodes = append(v.Barcodes, b)
	return true
}

// AddBarcode attaches a barcode unless its payload is already present.
func (f *Fields) AddBarcode(b Barcode) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return addBarcode(&f.v, b)
}

// IsInEmptyState reports whether nothing has been entered yet.
func (f *Fields) IsInEmptyState() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v := f.v
	return v.Name == "" && v.Emoji == "" && v.Detail == "" && v.Brand == "" &&
		v.Serving.IsEmpty() && v.Energy.IsEmpty() && v.Carb.IsEmpty() &&
		v.Fat.IsEmpty() && v.Protein.IsEmpty() &&
		len(v.Micronutrients) == 0 && !v.Prefilled
}

// MissingRequiredField returns the display name of the first required field
// without a value.
func (f *Fields) MissingRequiredField() (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v := f.v
	switch {
	case strings.TrimSpace(v.Name) == "":
		return "Name", true
	case v.Amount.IsEmpty():
		return "Amount", true
	case v.Energy.IsEmpty():
		return "Energy", true
	case v.Carb.IsEmpty():
		return "Carbohydrate", true
	case v.Fat.IsEmpty():
		return "Total Fats", true
	case v.Protein.IsEmpty():
		return "Protein", true
	}
	return "", false
}

// CanBeSaved reports whether every required field is filled.
func (f *Fields) CanBeSaved() bool {
	_, missing := f.MissingRequiredField()
	return !missing
}
