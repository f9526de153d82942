package batch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/labelscan/internal/testutil"
)

// labelDir writes n copies of the named fixture image into a temp dir.
func labelDir(t *testing.T, fixture string, n int) string {
	t.Helper()
	dir := t.TempDir()
	imagePath, _ := testutil.WriteFixture(t, dir, testutil.FixtureByName(t, fixture))
	data, err := os.ReadFile(imagePath)
	require.NoError(t, err)
	for i := 1; i < n; i++ {
		copyPath := filepath.Join(dir, fixture+"_copy"+string(rune('a'+i))+".png")
		require.NoError(t, os.WriteFile(copyPath, data, 0o600))
	}
	return dir
}

func TestProcessBatch_SingleColumnLabels(t *testing.T) {
	f := testutil.FixtureByName(t, "single_column")
	dir := labelDir(t, f.Name, 3)
	gateway := &testutil.FakeGateway{Set: f.Texts}

	result, err := ProcessBatch(context.Background(), []string{dir}, &Config{Gateway: gateway, Workers: 2})
	require.NoError(t, err)

	require.Len(t, result.Items, 3)
	assert.Equal(t, 3, gateway.Calls())
	for _, it := range result.Items {
		assert.Equal(t, StatusCompleted, it.Status, it.Error)
		require.NotNil(t, it.Result)
		assert.Equal(t, 1, it.Result.SelectedColumn)
		assert.Equal(t, len(it.Result.TextBoxes), it.Crops)
		assert.NotEmpty(t, it.SessionID)
	}

	stats := result.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Completed)
	assert.Equal(t, 2, stats.WorkerCount)
}

func TestProcessBatch_TwoColumnLabels(t *testing.T) {
	f := testutil.FixtureByName(t, "two_column")
	dir := labelDir(t, f.Name, 1)

	tests := []struct {
		name       string
		column     int
		wantStatus Status
		wantError  string
	}{
		{"without column", 0, StatusNeedsColumn, ""},
		{"second column", 2, StatusCompleted, ""},
		{"column out of range", 3, StatusFailed, "invalid column"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Gateway: &testutil.FakeGateway{Set: f.Texts}, Column: tt.column}
			result, err := ProcessBatch(context.Background(), []string{dir}, cfg)
			require.NoError(t, err)
			require.Len(t, result.Items, 1)

			it := result.Items[0]
			assert.Equal(t, tt.wantStatus, it.Status)
			switch tt.wantStatus {
			case StatusNeedsColumn:
				assert.Len(t, it.Columns, 2)
				assert.Nil(t, it.Result)
			case StatusCompleted:
				require.NotNil(t, it.Result)
				assert.Equal(t, tt.column, it.Result.SelectedColumn)
			case StatusFailed:
				assert.Contains(t, it.Error, tt.wantError)
			}
		})
	}
}

func TestProcessBatch_FailuresDoNotStopTheBatch(t *testing.T) {
	f := testutil.FixtureByName(t, "single_column")
	dir := labelDir(t, f.Name, 1)
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("not an image"), 0o600))

	result, err := ProcessBatch(context.Background(), []string{dir, notes}, &Config{
		Gateway: &testutil.FakeGateway{Set: f.Texts},
	})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)

	assert.Equal(t, StatusCompleted, result.Items[0].Status)
	assert.Equal(t, StatusFailed, result.Items[1].Status)
	assert.Equal(t, notes, result.Items[1].File)

	stats := result.Stats()
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
}

func TestProcessBatch_RecognitionFailure(t *testing.T) {
	dir := labelDir(t, "single_column", 2)
	engineErr := errors.New("engine offline")

	result, err := ProcessBatch(context.Background(), []string{dir}, &Config{
		Gateway: &testutil.FakeGateway{Err: engineErr},
		Workers: 4,
	})
	require.NoError(t, err)
	for _, it := range result.Items {
		assert.Equal(t, StatusFailed, it.Status)
		assert.Contains(t, it.Error, "engine offline")
	}
}

func TestProcessBatch_Errors(t *testing.T) {
	_, err := ProcessBatch(context.Background(), []string{t.TempDir()}, &Config{})
	require.ErrorIs(t, err, ErrNoGateway)

	_, err = ProcessBatch(context.Background(), []string{t.TempDir()}, &Config{Gateway: &testutil.FakeGateway{}})
	require.ErrorIs(t, err, ErrNoImages)

	_, err = ProcessBatch(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}, &Config{Gateway: &testutil.FakeGateway{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to discover image files")
}

func TestProcessBatch_Cancelled(t *testing.T) {
	f := testutil.FixtureByName(t, "single_column")
	dir := labelDir(t, f.Name, 2)
	ctx, cancel := context.WithCancel(context.Background())
	gateway := &testutil.FakeGateway{Set: f.Texts, Block: make(chan struct{})}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := ProcessBatch(ctx, []string{dir}, &Config{Gateway: gateway})
	require.ErrorIs(t, err, context.Canceled)
}

func TestResult_SaveResults(t *testing.T) {
	result := &Result{Items: sampleItems(), Duration: 300 * time.Millisecond, WorkerCount: 2}

	var out bytes.Buffer
	require.NoError(t, result.SaveResults(&out, "text", "", false))
	assert.Contains(t, out.String(), "# /labels/single.png")

	out.Reset()
	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, result.SaveResults(&out, "json", path, false))
	assert.Equal(t, "Results written to "+path+"\n", out.String())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"labels"`)

	out.Reset()
	require.NoError(t, result.SaveResults(&out, "json", path, true))
	assert.Empty(t, out.String())

	require.Error(t, result.SaveResults(&out, "xml", "", false))
}

func TestResult_PrintStats(t *testing.T) {
	result := &Result{Items: sampleItems(), Duration: 300 * time.Millisecond, WorkerCount: 2}

	var out bytes.Buffer
	result.PrintStats(&out, false)
	assert.Contains(t, out.String(), "Total labels: 3")
	assert.Contains(t, out.String(), "Completed: 1")
	assert.Contains(t, out.String(), "Needs column: 1")
	assert.Contains(t, out.String(), "Failed: 1")
	assert.Contains(t, out.String(), "Throughput: 10.0 labels/sec")

	out.Reset()
	result.PrintStats(&out, true)
	assert.Empty(t, out.String())
}

func TestResult_StatsEmpty(t *testing.T) {
	stats := (&Result{}).Stats()
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.AveragePerImage)
	assert.Zero(t, stats.ThroughputPerSec)
}
