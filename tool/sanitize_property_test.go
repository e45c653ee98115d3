package tool

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestSimilarityRatio_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("ratio is within [0, 1]", prop.ForAll(
		func(a, b string) bool {
			r := similarityRatio(a, b)
			return r >= 0.0 && r <= 1.0
		},
		gen.AnyString(), gen.AnyString(),
	))

	properties.Property("ratio is symmetric", prop.ForAll(
		func(a, b string) bool {
			return similarityRatio(a, b) == similarityRatio(b, a)
		},
		gen.AlphaString(), gen.AlphaString(),
	))

	properties.Property("identical strings score 1", prop.ForAll(
		func(a string) bool {
			return similarityRatio(a, a) == 1.0
		},
		gen.AnyString(),
	))

	properties.Property("sanitize is idempotent", prop.ForAll(
		func(name string) bool {
			once := sanitizeToolName(name)
			return sanitizeToolName(once) == once
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
