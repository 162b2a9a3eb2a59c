package extractor

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/highlight-helper/highlight-helper/internal/config"
	"github.com/highlight-helper/highlight-helper/internal/resilience"
)

// AnthropicExtractor extracts text from images via the Anthropic Messages
// API.
type AnthropicExtractor struct {
	client    sdk.Client
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
}

// NewAnthropic creates an extractor backed by the Anthropic API.
func NewAnthropic(cfg config.AnthropicConfig, retry resilience.RetryConfig) *AnthropicExtractor {
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 2000
	}

	retry.OnRetry = resilience.RetryLogger("anthropic", "create message")

	return &AnthropicExtractor{
		client:    sdk.NewClient(option.WithAPIKey(cfg.Key)),
		model:     cfg.Model,
		maxTokens: maxTokens,
		retry:     retry,
	}
}

// Extract asks the model for the passage described by instructions.
func (e *AnthropicExtractor) Extract(ctx context.Context, image []byte, filename, instructions string) (*Extraction, error) {
	raw, err := e.complete(ctx, extractionPrompt, instructions, image, e.maxTokens)
	if err != nil {
		return nil, err
	}

	ext, err := parseExtraction(raw)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("anthropic extraction complete",
		zap.String("filename", filename),
		zap.String("confidence", ext.Confidence),
		zap.Int("text_len", len(ext.Text)),
	)

	return ext, nil
}

// ExtractISBN asks the model for the ISBN visible on a cover or barcode.
func (e *AnthropicExtractor) ExtractISBN(ctx context.Context, image []byte, filename string) (*ISBNResult, error) {
	raw, err := e.complete(ctx, isbnPrompt, "Extract the ISBN from this image.", image, isbnMaxTokens)
	if err != nil {
		return nil, err
	}

	res, err := parseISBN(raw)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("anthropic isbn extraction complete",
		zap.String("filename", filename),
		zap.String("isbn", res.ISBN),
		zap.String("source", res.Source),
	)

	return res, nil
}

func (e *AnthropicExtractor) complete(ctx context.Context, system, user string, image []byte, maxTokens int64) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(e.model),
		MaxTokens: maxTokens,
		System: []sdk.TextBlockParam{
			{Text: system},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(
				sdk.NewImageBlockBase64(
					http.DetectContentType(image),
					base64.StdEncoding.EncodeToString(image),
				),
				sdk.NewTextBlock(user),
			),
		},
	}

	msg, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*sdk.Message, error) {
		msg, err := e.client.Messages.New(ctx, params)
		if err != nil {
			return nil, classifyAnthropicErr(err)
		}
		return msg, nil
	})
	if err != nil {
		return "", eris.Wrap(err, "anthropic: create message")
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}

	return "", eris.New("anthropic: response has no text content")
}

// classifyAnthropicErr marks retryable API failures as transient so the
// retry loop distinguishes them from bad requests.
func classifyAnthropicErr(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(err, apiErr.StatusCode)
	}
	return err
}
