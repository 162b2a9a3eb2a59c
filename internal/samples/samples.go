// Package samples generates the synthetic evaluation fixtures: rendered page
// images with known text, the dataset file describing them, and a result
// cache primed with the expected extractions so offline evaluation runs pass
// without any API calls.
package samples

import (
	"encoding/json"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/highlight-helper/highlight-helper/internal/evals"
)

const (
	pageWidth  = 800
	pageHeight = 400
	marginLeft = 50
	marginTop  = 50
	lineHeight = 16
)

// caseSpec describes one synthetic page: the text rendered onto the image
// and the instruction used to extract from it.
type caseSpec struct {
	id          string
	text        string
	instruction string
	// expected overrides the flattened page text for instruction-based
	// cases that target a fragment of the page.
	expected string
	page     string
	category string
}

var caseSpecs = []caseSpec{
	{
		id:          "synthetic_01",
		text:        "The only way to do great work is to love what you do.",
		instruction: "Extract all the text",
		category:    "simple",
	},
	{
		id:          "synthetic_02",
		text:        "In the beginning, there was nothing. Then there was everything.",
		instruction: "Extract the text starting with 'In the beginning'",
		category:    "instruction-based",
	},
	{
		id:          "synthetic_03",
		text:        "Page 42\n\nTo be or not to be, that is the question.",
		instruction: "Extract the quote",
		page:        "42",
		category:    "with-page-number",
	},
	{
		id:          "synthetic_04",
		text:        "The quick brown fox jumps over the lazy dog.",
		instruction: "Get the sentence about the fox",
		category:    "instruction-based",
	},
	{
		id: "synthetic_05",
		text: "First paragraph here.\n\n" +
			"Second paragraph with more content.\n\n" +
			"Third paragraph at the end.",
		instruction: "Extract the second paragraph",
		expected:    "Second paragraph with more content.",
		category:    "instruction-based",
	},
}

// Generate writes the synthetic fixtures into dir: one PNG per case,
// dataset.json, and cache.json keyed the way the evaluation runner expects.
// Existing files are overwritten.
func Generate(dir string) (*evals.Dataset, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "samples: create dir %s", dir)
	}

	ds := &evals.Dataset{
		Version:     "1.0",
		Description: "Evaluation dataset for highlight extraction",
	}
	cache := evals.NewCache(filepath.Join(dir, "cache.json"))

	for _, spec := range caseSpecs {
		filename := spec.id + ".png"
		if err := writePNG(filepath.Join(dir, filename), renderPage(spec.text)); err != nil {
			return nil, err
		}

		expected := spec.expected
		if expected == "" {
			expected = flatten(spec.text)
		}

		c := evals.Case{
			ID:           spec.id,
			ImagePath:    filename,
			Instruction:  spec.instruction,
			ExpectedText: expected,
			Category:     spec.category,
			Description:  "Synthetic test: " + spec.instruction,
		}
		entry := evals.CacheEntry{
			Text:       expected,
			Confidence: "high",
			LatencyMS:  100.0,
		}
		if spec.page != "" {
			p := spec.page
			c.ExpectedPageNumber = &p
			entry.PageNumber = &p
		}

		ds.Cases = append(ds.Cases, c)
		cache.Put(spec.id+":"+spec.instruction, entry)
	}

	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "samples: encode dataset")
	}
	if err := os.WriteFile(filepath.Join(dir, "dataset.json"), data, 0o644); err != nil {
		return nil, eris.Wrap(err, "samples: write dataset")
	}

	if err := cache.Save(); err != nil {
		return nil, err
	}

	zap.L().Info("generated evaluation samples",
		zap.String("dir", dir),
		zap.Int("cases", len(ds.Cases)),
	)
	return ds, nil
}

// renderPage draws text onto a white page image, one line per newline. Blank
// lines produced by paragraph breaks keep their vertical space.
func renderPage(text string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, pageWidth, pageHeight))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	d := font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: face,
	}

	y := marginTop + face.Metrics().Ascent.Ceil()
	for _, line := range strings.Split(text, "\n") {
		d.Dot = fixed.P(marginLeft, y)
		d.DrawString(line)
		y += lineHeight
	}
	return img
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "samples: create %s", path)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return eris.Wrapf(err, "samples: encode %s", path)
	}
	return nil
}

// flatten joins paragraphs and line breaks into single-line expected text.
func flatten(s string) string {
	s = strings.ReplaceAll(s, "\n\n", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
