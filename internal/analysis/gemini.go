package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/voxlog/journal-gateway/internal/config"
	"github.com/voxlog/journal-gateway/internal/resilience"
)

const analysisPrompt = `You are a reflective journaling assistant. Analyze the voice journal transcript below and respond with a single JSON object:
{
  "summary": "short narrative summary of the entry",
  "keywords": ["3-5 keywords"],
  "feedback": "one encouraging sentence",
  "report": {
    "thinkingIntensity": 0-100,
    "pauseTime": estimated total pause time in seconds,
    "coherenceScore": 0-100,
    "missingPoints": ["2-4 angles the speaker did not explore"]
  },
  "followUpQuestion": "one question to prompt the next entry"
}
Respond in the same language as the transcript.

Recording duration: %d seconds.
Transcript:
%s`

const titlePrompt = `Write a short descriptive title (3 to 6 words) for the voice journal entry below, in the same language as the entry. Respond with the title only, no quotes.

%s`

// GeminiAnalyzer implements Analyzer on the Gemini API. A circuit breaker
// protects the model service from being hammered while it is failing.
type GeminiAnalyzer struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	titler  *genai.GenerativeModel
	breaker *resilience.CircuitBreaker
	timeout time.Duration
}

// NewGeminiAnalyzer creates an analyzer from the service configuration.
func NewGeminiAnalyzer(ctx context.Context, cfg *config.Config) (*GeminiAnalyzer, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.GeminiModel)
	model.GenerationConfig.ResponseMIMEType = "application/json"
	model.GenerationConfig.SetTemperature(0.4)

	titler := client.GenerativeModel(cfg.GeminiModel)
	titler.GenerationConfig.SetTemperature(0.4)
	titler.GenerationConfig.SetMaxOutputTokens(32)

	return &GeminiAnalyzer{
		client:  client,
		model:   model,
		titler:  titler,
		breaker: resilience.NewCircuitBreaker(
			"gemini",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		timeout: time.Duration(cfg.AnalysisTimeout) * time.Second,
	}, nil
}

// Analyze runs the structured analysis call. The returned Result carries
// per-field defaults for anything the model got wrong.
func (g *GeminiAnalyzer) Analyze(ctx context.Context, transcript string, duration time.Duration) (*Result, error) {
	prompt := fmt.Sprintf(analysisPrompt, int(duration.Seconds()), transcript)

	text, err := g.generate(ctx, g.model, prompt)
	if err != nil {
		return nil, err
	}

	return decodeResult([]byte(text), transcript), nil
}

// Title runs the short title call.
func (g *GeminiAnalyzer) Title(ctx context.Context, transcript string) (string, error) {
	text, err := g.generate(ctx, g.titler, fmt.Sprintf(titlePrompt, transcript))
	if err != nil {
		return "", err
	}

	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(text), `"`))
	if title == "" {
		return "", fmt.Errorf("model returned an empty title")
	}
	return title, nil
}

func (g *GeminiAnalyzer) generate(ctx context.Context, model *genai.GenerativeModel, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var resp *genai.GenerateContentResponse
	err := g.breaker.Call(func() error {
		var callErr error
		resp, callErr = model.GenerateContent(ctx, genai.Text(prompt))
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("model call failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("model returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("model returned no text")
	}
	return sb.String(), nil
}

// Close releases the underlying API client.
func (g *GeminiAnalyzer) Close() error {
	return g.client.Close()
}
