package form

import (
	"bytes"
	"image/color"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/labelscan/internal/recognition"
	"github.com/MeKo-Tech/labelscan/internal/testutil"
)

func resolvedTwoColumn(t *testing.T, column int) recognition.ScanResult {
	t.Helper()
	r, err := testutil.TwoColumnLabel().ScanResult().Resolve(column)
	require.NoError(t, err)
	return r
}

func TestApplyScanResult_PerServingColumn(t *testing.T) {
	f := NewFields()

	n := f.ApplyScanResult(resolvedTwoColumn(t, 2))

	v := f.Values()
	assert.Positive(t, n)
	assert.InDelta(t, 125, v.Energy.Amount, 1e-9)
	assert.Equal(t, "kcal", v.Energy.Unit)
	assert.InDelta(t, 4.3, v.Fat.Amount, 1e-9)
	assert.InDelta(t, 2.5, v.Protein.Amount, 1e-9)
	assert.Equal(t, FillScanned, v.Protein.Fill)
	assert.True(t, v.Carb.IsEmpty())
	assert.InDelta(t, 1, v.Amount.Amount, 1e-9)
	assert.Equal(t, "serving", v.Amount.Unit)
}

func TestApplyScanResult_Per100gColumn(t *testing.T) {
	f := NewFields()
	f.ApplyScanResult(resolvedTwoColumn(t, 1))

	v := f.Values()
	assert.InDelta(t, 250, v.Energy.Amount, 1e-9)
	assert.InDelta(t, 100, v.Amount.Amount, 1e-9)
	assert.Equal(t, "g", v.Amount.Unit)
}

func TestApplyScanResult_KeepsUserInput(t *testing.T) {
	f := NewFields()
	f.Update(func(v *Values) { v.Protein = UserField(9, "g") })

	f.ApplyScanResult(testutil.SingleColumnLabel().ScanResult())

	v := f.Values()
	assert.InDelta(t, 9, v.Protein.Amount, 1e-9)
	assert.Equal(t, FillUser, v.Protein.Fill)
	assert.InDelta(t, 8, v.Fat.Amount, 1e-9)
	assert.InDelta(t, 37, v.Carb.Amount, 1e-9)
	assert.InDelta(t, 230, v.Energy.Amount, 1e-9)
}

func TestApplyScanResult_Barcodes(t *testing.T) {
	f := NewFields()
	r := testutil.SingleColumnLabel().ScanResult()
	r.Barcodes = []recognition.Barcode{
		{Payload: "4006381333931", Format: "EAN_13"},
		{Payload: "4006381333931", Format: "EAN_13"},
	}

	f.ApplyScanResult(r)
	assert.Len(t, f.Values().Barcodes, 1)
	assert.False(t, f.AddBarcode(Barcode{Payload: "4006381333931"}))
	assert.True(t, f.AddBarcode(Barcode{Payload: "123"}))
}

func TestRequiredFields(t *testing.T) {
	f := NewFields()
	assert.True(t, f.IsInEmptyState())
	name, missing := f.MissingRequiredField()
	assert.True(t, missing)
	assert.Equal(t, "Name", name)
	assert.False(t, f.CanBeSaved())

	f.ApplyScanResult(resolvedTwoColumn(t, 1))
	assert.False(t, f.IsInEmptyState())
	f.Update(func(v *Values) { v.Name = "Granola" })

	name, missing = f.MissingRequiredField()
	assert.True(t, missing)
	assert.Equal(t, "Carbohydrate", name)

	f.Update(func(v *Values) { v.Carb = UserField(60, "g") })
	_, missing = f.MissingRequiredField()
	assert.False(t, missing)
	assert.True(t, f.CanBeSaved())
}

func TestSources(t *testing.T) {
	s := NewSources()
	assert.False(t, s.CanBePublished())
	assert.Equal(t, MaxImages, s.AvailableImagesCount())

	img := testutil.CreateTestImage(10, 10, color.White)
	ambiguous := testutil.TwoColumnLabel().ScanResult()
	id, err := s.AddImage(img, &ambiguous)
	require.NoError(t, err)
	assert.True(t, s.CanBePublished())

	sel, ok := s.ColumnSelection()
	require.True(t, ok)
	assert.Equal(t, id, sel.ImageID)
	assert.Len(t, sel.Columns, 2)
	s.ClearColumnSelection()
	_, ok = s.ColumnSelection()
	assert.False(t, ok)

	for range MaxImages - 1 {
		_, err := s.AddImage(img, nil)
		require.NoError(t, err)
	}
	_, err = s.AddImage(img, nil)
	assert.ErrorIs(t, err, ErrTooManyImages)
	assert.Zero(t, s.AvailableImagesCount())
}

func TestSources_Links(t *testing.T) {
	s := NewSources()
	assert.ErrorIs(t, s.AddLink("not a link"), ErrInvalidLink)
	assert.ErrorIs(t, s.AddLink("ftp://example.com/x"), ErrInvalidLink)
	require.NoError(t, s.AddLink("https://example.com/granola"))
	assert.Equal(t, []string{"https://example.com/granola"}, s.Links())
	assert.True(t, s.CanBePublished())
}

func TestHandlers(t *testing.T) {
	fields, sources := NewFields(), NewSources()
	h := Handlers(fields, sources)
	result := resolvedTwoColumn(t, 2)

	h.Image(testutil.CreateTestImage(5, 5, color.White), result)
	require.Len(t, sources.Images(), 1)
	assert.True(t, fields.IsInEmptyState(), "fields are filled by the final handler")
	_, pending := sources.ColumnSelection()
	assert.False(t, pending, "resolved results need no column selection")

	h.ScanResult(result)
	assert.InDelta(t, 2.5, fields.Values().Protein.Amount, 1e-9)
	assert.Nil(t, h.Dismiss)
}

func TestHandlers_FullImageListIsLogged(t *testing.T) {
	fields, sources := NewFields(), NewSources()
	for range MaxImages {
		_, err := sources.AddImage(testutil.CreateTestImage(5, 5, color.White), nil)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := HandlersWithLogger(fields, sources, logger)
	result := resolvedTwoColumn(t, 2)

	h.Image(testutil.CreateTestImage(5, 5, color.White), result)
	assert.Len(t, sources.Images(), MaxImages)
	assert.Contains(t, buf.String(), "could not attach scanned image")
	assert.Contains(t, buf.String(), ErrTooManyImages.Error())

	h.ScanResult(result)
	assert.InDelta(t, 2.5, fields.Values().Protein.Amount, 1e-9)
}

func TestStatusMessageAndSave(t *testing.T) {
	fields, sources := NewFields(), NewSources()
	assert.Empty(t, StatusMessage(fields, sources))

	fields.Update(func(v *Values) { v.Name = "Granola" })
	assert.Equal(t, "Missing Amount", StatusMessage(fields, sources))
	_, err := Save(fields, sources, false)
	assert.ErrorIs(t, err, ErrCannotSave)

	fields.Update(func(v *Values) {
		v.Amount = UserField(100, "g")
		v.Energy = UserField(400, "kcal")
		v.Carb = UserField(60, "g")
		v.Fat = UserField(10, "g")
		v.Protein = UserField(9, "g")
	})
	assert.Equal(t, "Missing source", StatusMessage(fields, sources))

	out, err := Save(fields, sources, false)
	require.NoError(t, err)
	assert.False(t, out.ShouldPublish)
	_, err = Save(fields, sources, true)
	assert.ErrorIs(t, err, ErrCannotPublish)

	require.NoError(t, sources.AddLink("https://example.com"))
	assert.Empty(t, StatusMessage(fields, sources))
	out, err = Save(fields, sources, true)
	require.NoError(t, err)
	assert.True(t, out.ShouldPublish)
	assert.Equal(t, "Granola", out.Values.Name)
}
