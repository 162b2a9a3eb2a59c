package extractor

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/highlight-helper/highlight-helper/internal/config"
	"github.com/highlight-helper/highlight-helper/internal/resilience"
)

// OpenAIExtractor extracts text from images via OpenAI vision chat
// completions.
type OpenAIExtractor struct {
	client    openai.Client
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
}

// NewOpenAI creates an extractor backed by the OpenAI API.
func NewOpenAI(cfg config.OpenAIConfig, retry resilience.RetryConfig) *OpenAIExtractor {
	opts := []openaiopt.RequestOption{openaiopt.WithAPIKey(cfg.Key)}
	if cfg.BaseURL != "" {
		opts = append(opts, openaiopt.WithBaseURL(cfg.BaseURL))
	}

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 2000
	}

	retry.OnRetry = resilience.RetryLogger("openai", "chat completion")

	return &OpenAIExtractor{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
		retry:     retry,
	}
}

// Extract asks the model for the passage described by instructions.
func (e *OpenAIExtractor) Extract(ctx context.Context, image []byte, filename, instructions string) (*Extraction, error) {
	raw, err := e.complete(ctx, extractionPrompt, instructions, image, e.maxTokens)
	if err != nil {
		return nil, err
	}

	ext, err := parseExtraction(raw)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("openai extraction complete",
		zap.String("filename", filename),
		zap.String("confidence", ext.Confidence),
		zap.Int("text_len", len(ext.Text)),
	)

	return ext, nil
}

// ExtractISBN asks the model for the ISBN visible on a cover or barcode.
func (e *OpenAIExtractor) ExtractISBN(ctx context.Context, image []byte, filename string) (*ISBNResult, error) {
	raw, err := e.complete(ctx, isbnPrompt, "Extract the ISBN from this image.", image, isbnMaxTokens)
	if err != nil {
		return nil, err
	}

	res, err := parseISBN(raw)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("openai isbn extraction complete",
		zap.String("filename", filename),
		zap.String("isbn", res.ISBN),
		zap.String("source", res.Source),
	)

	return res, nil
}

func (e *OpenAIExtractor) complete(ctx context.Context, system, user string, image []byte, maxTokens int64) (string, error) {
	dataURL := "data:" + http.DetectContentType(image) + ";base64," +
		base64.StdEncoding.EncodeToString(image)

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(system),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
							{
								OfText: &openai.ChatCompletionContentPartTextParam{Text: user},
							},
							{
								OfImageURL: &openai.ChatCompletionContentPartImageParam{
									ImageURL: openai.ChatCompletionContentPartImageImageURLParam{
										URL: dataURL,
									},
								},
							},
						},
					},
				},
			},
		},
		MaxCompletionTokens: openai.Int(maxTokens),
	}

	resp, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*openai.ChatCompletion, error) {
		resp, err := e.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, classifyOpenAIErr(err)
		}
		return resp, nil
	})
	if err != nil {
		return "", eris.Wrap(err, "openai: chat completion")
	}

	if len(resp.Choices) == 0 {
		return "", eris.New("openai: response has no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

// classifyOpenAIErr marks retryable API failures as transient so the retry
// loop distinguishes them from bad requests.
func classifyOpenAIErr(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(err, apiErr.StatusCode)
	}
	return err
}
