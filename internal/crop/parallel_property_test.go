package crop

import (
	"context"
	"image/color"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/MeKo-Tech/labelscan/internal/recognition"
	"github.com/MeKo-Tech/labelscan/internal/testutil"
)

// TestExtractAll_Properties checks that extraction never duplicates a box and
// never keeps a failed one, whatever the worker count and failure pattern.
func TestExtractAll_Properties(t *testing.T) {
	img := testutil.CreateTestImage(120, 240, color.White)
	properties := gopter.NewProperties(nil)

	properties.Property("entries are unique and exclude failures", prop.ForAll(
		func(n, workers, dups int, failMask []bool) bool {
			bs := boxes(n)
			fail := map[uuid.UUID]bool{}
			for i, f := range failMask {
				if f && i < len(bs) {
					fail[bs[i].ID] = true
				}
			}
			all := append([]recognition.TextBox(nil), bs...)
			for i := 0; i < dups && i < len(bs); i++ {
				all = append(all, bs[i])
			}

			coll := NewCollection()
			b := failingBuilder{inner: newTestExtractor(), fail: fail}
			if err := ExtractAll(context.Background(), b, img, all, coll, ExtractConfig{MaxWorkers: workers}); err != nil {
				return false
			}

			seen := map[uuid.UUID]bool{}
			for _, e := range coll.Entries() {
				if seen[e.BoxID] || fail[e.BoxID] {
					return false
				}
				seen[e.BoxID] = true
			}
			return len(seen) == len(bs)-len(fail)
		},
		gen.IntRange(0, 16),
		gen.IntRange(1, 6),
		gen.IntRange(0, 4),
		gen.SliceOfN(16, gen.Bool()),
	))

	properties.TestingRun(t)
}
