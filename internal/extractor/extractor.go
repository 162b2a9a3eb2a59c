// Package extractor turns photos of book pages and covers into structured
// extractions using vision-capable LLM providers. Providers share a prompt
// contract: the model answers with a single JSON object, which is cleaned of
// markdown fencing and decoded into typed results.
package extractor

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/highlight-helper/highlight-helper/internal/config"
	"github.com/highlight-helper/highlight-helper/internal/resilience"
)

// Extraction is the structured output of a highlight extraction call.
type Extraction struct {
	Text       string  `json:"text"`
	Confidence string  `json:"confidence"`
	PageNumber *string `json:"page_number"`
}

// UnmarshalJSON accepts page_number as either a JSON string or a bare
// number, since vision models emit both.
func (e *Extraction) UnmarshalJSON(data []byte) error {
	var raw struct {
		Text       string          `json:"text"`
		Confidence string          `json:"confidence"`
		PageNumber json.RawMessage `json:"page_number"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.Text = raw.Text
	e.Confidence = raw.Confidence
	e.PageNumber = nil

	if len(raw.PageNumber) == 0 || string(raw.PageNumber) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.PageNumber, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw.PageNumber, &n); err != nil {
			return eris.New("page_number is neither string nor number")
		}
		s = n.String()
	}
	if s != "" {
		e.PageNumber = &s
	}
	return nil
}

// ISBNResult is the structured output of an ISBN extraction call.
type ISBNResult struct {
	ISBN       string `json:"isbn"`
	Confidence string `json:"confidence"`
	Source     string `json:"source"`
}

// Extractor extracts text from a book page image according to user
// instructions.
type Extractor interface {
	Extract(ctx context.Context, image []byte, filename, instructions string) (*Extraction, error)
}

// ISBNExtractor reads an ISBN off a book cover or barcode image.
type ISBNExtractor interface {
	ExtractISBN(ctx context.Context, image []byte, filename string) (*ISBNResult, error)
}

// Provider bundles the extraction operations every backend implements.
type Provider interface {
	Extractor
	ISBNExtractor
}

// New returns the provider selected by cfg.Provider.
func New(cfg config.ExtractorConfig) (Provider, error) {
	retry := resilience.FromRetryConfig(
		cfg.Retry.MaxAttempts,
		cfg.Retry.InitialBackoffMS,
		cfg.Retry.MaxBackoffMS,
		cfg.Retry.Multiplier,
		cfg.Retry.JitterFraction,
	)

	switch cfg.Provider {
	case "", "openai":
		if cfg.OpenAI.Key == "" {
			return nil, eris.New("extractor: openai key not configured")
		}
		return NewOpenAI(cfg.OpenAI, retry), nil
	case "anthropic":
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("extractor: anthropic key not configured")
		}
		return NewAnthropic(cfg.Anthropic, retry), nil
	default:
		return nil, eris.Errorf("extractor: unknown provider %q", cfg.Provider)
	}
}

const extractionPrompt = `You are a precise text extraction assistant. Your job is to extract
specific text from book page images based on user instructions.

You can handle TWO types of requests:

1. HIGHLIGHTED TEXT: If the user asks for "highlighted", "underlined",
   "circled", or "marked" text, look for visually marked passages.

2. INSTRUCTION-BASED: If the user describes text without referring to
   visual marks, find and extract the matching text. Examples:
   - "grab the sentence about love" -> find a sentence mentioning love
   - "extract the first paragraph" -> get the first paragraph
   - "get the quote starting with 'In the beginning'" -> find that quote

Instructions:
- Preserve the exact wording from the book - do not paraphrase or modify
- If you can see a page number, include it
- Rate confidence as "high" (exact match), "medium" (best guess), or "low"
- Return empty text with "low" confidence if nothing matches

Respond with only a JSON object of this shape:
{"text": "<extracted text>", "confidence": "high|medium|low", "page_number": "<page number or null>"}`

const isbnPrompt = `You are an ISBN extraction assistant. Your job is to find and extract
ISBN numbers from images of book covers, back covers, or barcodes.

ISBNs can appear in several forms:
1. BARCODE: Look for EAN-13 barcodes (usually on back cover). The number
   below or above the barcode starting with 978 or 979 is the ISBN-13.
2. PRINTED TEXT: Look for text like "ISBN: xxx" or "ISBN-13: xxx" or
   "ISBN-10: xxx" printed on the cover or copyright page.
3. INFERRED: If you can clearly identify the book, you may recognize
   a well-known edition's ISBN.

Instructions:
- Extract ONLY the digits (remove hyphens, spaces, "ISBN" prefix)
- ISBN-13 has 13 digits, ISBN-10 has 10 digits
- Prefer ISBN-13 if both are visible
- Rate confidence as "high" (clear barcode/text), "medium" (partial/unclear), or "low" (guessing or not found)
- Indicate whether the ISBN came from a 'barcode', 'text', or is 'unknown'
- Return empty isbn with "low" confidence if no ISBN is found

Respond with only a JSON object of this shape:
{"isbn": "<digits only>", "confidence": "high|medium|low", "source": "barcode|text|unknown"}`

// isbnMaxTokens caps ISBN extraction responses, which are tiny compared to
// passage extraction.
const isbnMaxTokens = 500

// parseExtraction decodes a model response into an Extraction.
func parseExtraction(raw string) (*Extraction, error) {
	var out Extraction
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &out); err != nil {
		return nil, eris.Wrap(err, "extractor: parse extraction response")
	}
	out.Confidence = normalizeConfidence(out.Confidence)
	return &out, nil
}

// parseISBN decodes a model response into an ISBNResult.
func parseISBN(raw string) (*ISBNResult, error) {
	var out ISBNResult
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &out); err != nil {
		return nil, eris.Wrap(err, "extractor: parse isbn response")
	}
	out.Confidence = normalizeConfidence(out.Confidence)
	out.ISBN = digitsOnly(out.ISBN)
	switch out.Source {
	case "barcode", "text":
	default:
		out.Source = "unknown"
	}
	return &out, nil
}

// cleanJSON strips markdown code fences and surrounding prose from a model
// response, leaving the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// normalizeConfidence clamps model output to the three supported levels.
// Anything unrecognized is treated as low.
func normalizeConfidence(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return "high"
	case "medium":
		return "medium"
	default:
		return "low"
	}
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
