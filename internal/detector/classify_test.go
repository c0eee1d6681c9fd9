// File: internal/detector/classify_test.go
package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nakurity/neurodesk/api/schemas"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   classifierInput
		want schemas.ElementType
	}{
		{"subscribe keyword", classifierInput{Text: "Subscribe", Width: 80, Height: 40}, schemas.ElementButton},
		{"like keyword case insensitive", classifierInput{Text: "LIKE", Width: 40, Height: 20}, schemas.ElementButton},
		{"keyword inside phrase", classifierInput{Text: "Click here to continue", Width: 300, Height: 16}, schemas.ElementButton},
		{"http url", classifierInput{Text: "http://example.test/page", Width: 200, Height: 14}, schemas.ElementLink},
		{"bare domain", classifierInput{Text: "example.com", Width: 100, Height: 14}, schemas.ElementLink},
		{"www prefix", classifierInput{Text: "www.example.test", Width: 120, Height: 14}, schemas.ElementLink},
		{"wide short box is an input", classifierInput{Text: "Search", Width: 400, Height: 30}, schemas.ElementInput},
		{"button shaped box", classifierInput{Text: "Xyz", Width: 120, Height: 45}, schemas.ElementButton},
		{"tall narrow box is plain text", classifierInput{Text: "Paragraph", Width: 40, Height: 200}, schemas.ElementText},
		{"empty text oversized box", classifierInput{Text: "Lorem ipsum dolor", Width: 900, Height: 500}, schemas.ElementText},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, classify(tc.in))
		})
	}
}
