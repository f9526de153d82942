package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/labelscan/internal/recognition"
	"github.com/MeKo-Tech/labelscan/internal/recognition/replay"
)

// LabelFixture is a label image together with the texts an engine reports
// for it and the values a scan should produce.
type LabelFixture struct {
	Name        string
	Description string
	Texts       *recognition.TextSet
	ColumnCount int
	// Expected holds the amounts of the first value column.
	Expected map[recognition.Attribute]float64
}

// LabelFixtures returns the standard label fixtures.
func LabelFixtures() []LabelFixture {
	return []LabelFixture{
		{
			Name:        "single_column",
			Description: "US style label with inline values",
			Texts:       SingleColumnLabel(),
			ColumnCount: 1,
			Expected: map[recognition.Attribute]float64{
				recognition.AttributeEnergy:       230,
				recognition.AttributeFat:          8,
				recognition.AttributeCarbohydrate: 37,
				recognition.AttributeProtein:      3,
			},
		},
		{
			Name:        "two_column",
			Description: "EU style label with per 100g and per serving columns",
			Texts:       TwoColumnLabel(),
			ColumnCount: 2,
			Expected: map[recognition.Attribute]float64{
				recognition.AttributeEnergy:  250,
				recognition.AttributeFat:     8.5,
				recognition.AttributeProtein: 5,
			},
		},
	}
}

// FixtureByName returns the named label fixture.
func FixtureByName(t testing.TB, name string) LabelFixture {
	t.Helper()

	for _, f := range LabelFixtures() {
		if f.Name == name {
			return f
		}
	}
	require.FailNow(t, "unknown label fixture", name)
	return LabelFixture{}
}

// WriteFixture renders the fixture image and records its texts in dir. It
// returns the image and recording paths.
func WriteFixture(t testing.TB, dir string, f LabelFixture) (imagePath, textsPath string) {
	t.Helper()

	imagePath = filepath.Join(dir, f.Name+".png")
	textsPath = filepath.Join(dir, f.Name+".texts.json")

	SaveImage(t, LabelImage(f.Texts), imagePath)
	require.NoError(t, replay.Record(textsPath, f.Texts))
	return imagePath, textsPath
}
