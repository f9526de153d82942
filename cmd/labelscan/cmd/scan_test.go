package cmd

import (
	"context"
	"encoding/json"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/labelscan/internal/form"
	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/recognition"
	"github.com/MeKo-Tech/labelscan/internal/recognition/replay"
	"github.com/MeKo-Tech/labelscan/internal/testutil"
)

// writeFixture changes into a fresh directory and writes the named fixture there.
func writeFixture(t *testing.T, name string) (imagePath, textsPath string) {
	t.Helper()

	dir := t.TempDir()
	t.Chdir(dir)
	return testutil.WriteFixture(t, dir, testutil.FixtureByName(t, name))
}

func TestScanCommand(t *testing.T) {
	assert.NotNil(t, scanCmd)
	assert.Equal(t, "scan", scanCmd.Name())
	assert.NotEmpty(t, scanCmd.Short)
	assert.Same(t, scanCmd, GetScanCommand())

	for _, name := range []string{"format", "camera", "column", "page", "display", "crops-dir", "paced", "texts", "record"} {
		assert.NotNil(t, scanCmd.Flags().Lookup(name), "flag %s", name)
	}
}

func TestScanSingleColumnJSON(t *testing.T) {
	imagePath, textsPath := writeFixture(t, "single_column")

	output, err := executeCommandAndCaptureOutput(t, "scan", imagePath, "--texts", textsPath, "--format", "json")
	require.NoError(t, err, output)

	var out scanOutput
	require.NoError(t, json.Unmarshal([]byte(output), &out), output)

	assert.Equal(t, imagePath, out.File)
	assert.NotEmpty(t, out.SessionID)
	assert.Equal(t, "png", out.Image.Format)
	assert.Equal(t, 1, out.Result.ColumnCount)

	for attr, want := range testutil.FixtureByName(t, "single_column").Expected {
		v, ok := out.Result.Value(attr)
		require.True(t, ok, attr)
		assert.InDelta(t, want, v.Amount, 1e-9, attr)
	}

	assert.InDelta(t, 230, out.Entry.Energy.Amount, 1e-9)
	assert.Equal(t, form.FillScanned, out.Entry.Energy.Fill)
	assert.InDelta(t, 3, out.Entry.Protein.Amount, 1e-9)
	assert.Equal(t, "Missing Name", out.Status)
}

func TestScanTwoColumnNeedsColumn(t *testing.T) {
	imagePath, textsPath := writeFixture(t, "two_column")

	_, err := executeCommandAndCaptureOutput(t, "scan", imagePath, "--texts", textsPath)
	require.ErrorIs(t, err, ErrColumnRequired)
	assert.Contains(t, err.Error(), `1="per 100g"`)
	assert.Contains(t, err.Error(), `2="per serving"`)
}

func TestScanTwoColumnYAML(t *testing.T) {
	imagePath, textsPath := writeFixture(t, "two_column")

	output, err := executeCommandAndCaptureOutput(t,
		"scan", imagePath, "--texts", textsPath, "--column", "2", "--camera", "--format", "yaml")
	require.NoError(t, err, output)

	var doc struct {
		Result struct {
			ColumnCount    int `yaml:"column_count"`
			SelectedColumn int `yaml:"selected_column"`
		} `yaml:"result"`
		Entry struct {
			Protein struct {
				Amount float64 `yaml:"amount"`
			} `yaml:"protein"`
		} `yaml:"entry"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(output), &doc), output)

	assert.Equal(t, 2, doc.Result.ColumnCount)
	assert.Equal(t, 2, doc.Result.SelectedColumn)
	assert.InDelta(t, 2.5, doc.Entry.Protein.Amount, 1e-9)
}

func TestScanTextOutput(t *testing.T) {
	imagePath, textsPath := writeFixture(t, "two_column")

	output, err := executeCommandAndCaptureOutput(t,
		"scan", imagePath, "--texts", textsPath, "--column", "1", "--color=false")
	require.NoError(t, err, output)

	assert.Contains(t, output, imagePath)
	assert.Contains(t, output, "selected 1, per 100g")
	assert.Contains(t, output, "energy")
	assert.Contains(t, output, "8.5g")
	assert.Contains(t, output, "entry: Missing Name")
}

func TestScanWritesCrops(t *testing.T) {
	imagePath, textsPath := writeFixture(t, "single_column")
	cropsDir := filepath.Join(t.TempDir(), "crops")

	output, err := executeCommandAndCaptureOutput(t,
		"scan", imagePath, "--texts", textsPath, "--crops-dir", cropsDir, "--format", "json")
	require.NoError(t, err, output)

	var out scanOutput
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	require.Len(t, out.Crops, len(out.Result.TextBoxes))

	for _, p := range out.Crops {
		assert.True(t, testutil.FileExists(p), p)
		img := testutil.LoadImage(t, p)
		assert.Positive(t, img.Bounds().Dx())
	}
}

func TestScanErrors(t *testing.T) {
	imagePath, textsPath := writeFixture(t, "two_column")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing image", []string{"scan", "/non/existent/label.png", "--texts", textsPath}, "label.png"},
		{"missing texts", []string{"scan", imagePath, "--texts", "nope.json"}, "failed to load text set"},
		{"invalid column", []string{"scan", imagePath, "--texts", textsPath, "--column", "3"}, "invalid column"},
		{"negative page", []string{"scan", imagePath, "--texts", textsPath, "--page", "-1"}, "invalid page"},
		{"invalid display", []string{"scan", imagePath, "--texts", textsPath, "--display", "wide"}, "invalid display size"},
		{"texts and record", []string{"scan", imagePath, "--texts", textsPath, "--record", "out.json"}, "cannot be combined"},
		{"invalid format", []string{"scan", imagePath, "--texts", textsPath, "--format", "csv"}, "format"},
		{"invalid mode", []string{"scan", imagePath, "--texts", textsPath, "--mode", "slow"}, "mode"},
		{"no arguments", []string{"scan"}, "accepts 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommandAndCaptureOutput(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    geometry.Size
		wantErr bool
	}{
		{"390x844", geometry.Size{Width: 390, Height: 844}, false},
		{" 400X800 ", geometry.Size{Width: 400, Height: 800}, false},
		{"412.5x915", geometry.Size{Width: 412.5, Height: 915}, false},
		{"390", geometry.Size{}, true},
		{"0x844", geometry.Size{}, true},
		{"axb", geometry.Size{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecordingGateway(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recorded.json")
	set := testutil.SingleColumnLabel()
	g := &recordingGateway{next: &testutil.FakeGateway{Set: set}, path: path}

	img := testutil.LabelImage(set)
	got, err := g.DetectText(context.Background(), img, recognition.ModeAccurate, false)
	require.NoError(t, err)
	assert.Len(t, got.Texts, len(set.Texts))

	replayed, err := replay.Load(path)
	require.NoError(t, err)
	again, err := replayed.DetectText(context.Background(), img, recognition.ModeFast, false)
	require.NoError(t, err)
	require.Len(t, again.Texts, len(set.Texts))
	for i := range set.Texts {
		assert.Equal(t, set.Texts[i].ID, again.Texts[i].ID)
		assert.Equal(t, set.Texts[i].Text, again.Texts[i].Text)
	}
}

func TestRecordingGatewayPropagatesErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recorded.json")
	g := &recordingGateway{next: &testutil.FakeGateway{Err: assert.AnError}, path: path}

	_, err := g.DetectText(context.Background(), testutil.CreateTestImage(10, 10, color.White), recognition.ModeFast, false)
	require.ErrorIs(t, err, assert.AnError)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDescribeColumns(t *testing.T) {
	got := describeColumns([]recognition.Column{{Number: 1, Header: "per 100g"}, {Number: 2}})
	assert.Equal(t, `columns 1="per 100g", 2`, got)
}
