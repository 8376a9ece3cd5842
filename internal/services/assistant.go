package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"repodash/internal/models"
)

// historyWindow is how many prior messages are replayed to the model.
const historyWindow = 10

const systemPrompt = `You are a helpful assistant for software developers.

RESPONSE GUIDELINES:
- Be concise but informative
- Use markdown formatting for readability
- Use fenced code blocks with a language tag for code
- Use bullet points for lists`

// ChunkFunc receives each increment of a streamed reply. Returning an error
// stops the stream.
type ChunkFunc func(content string) error

// Assistant produces a streamed reply to prompt given the earlier history,
// oldest first. It returns the number of tokens used when the backend reports it.
type Assistant interface {
	Stream(ctx context.Context, history []models.ChatMessage, prompt string, onChunk ChunkFunc) (int, error)
}

type GeminiAssistant struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	limiter *rate.Limiter
}

// NewGeminiAssistant allows at most requestsPerMin model calls per minute
// across all sockets.
func NewGeminiAssistant(ctx context.Context, apiKey, modelName string, requestsPerMin int) (*GeminiAssistant, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.7)
	model.SetTopP(0.95)
	model.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))

	if requestsPerMin < 1 {
		requestsPerMin = 1
	}
	return &GeminiAssistant{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMin)), requestsPerMin),
	}, nil
}

func (a *GeminiAssistant) Close() error {
	return a.client.Close()
}

func (a *GeminiAssistant) Stream(ctx context.Context, history []models.ChatMessage, prompt string, onChunk ChunkFunc) (int, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("waiting for Gemini rate slot: %w", err)
	}

	cs := a.model.StartChat()
	cs.History = toGeminiHistory(history)

	iter := cs.SendMessageStream(ctx, genai.Text(prompt))
	tokens := 0
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return tokens, nil
		}
		if err != nil {
			return tokens, fmt.Errorf("Gemini stream error: %w", err)
		}
		if resp.UsageMetadata != nil {
			tokens = int(resp.UsageMetadata.TotalTokenCount)
		}
		if text := extractText(resp); text != "" {
			if err := onChunk(text); err != nil {
				return tokens, err
			}
		}
	}
}

// toGeminiHistory keeps the last historyWindow messages. Gemini requires the
// history to open with a user turn.
func toGeminiHistory(history []models.ChatMessage) []*genai.Content {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for len(history) > 0 && history[0].Role != models.RoleUser {
		history = history[1:]
	}

	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return out
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}

// EchoAssistant answers with the prompt itself, word by word. It is used when
// no model API key is configured.
type EchoAssistant struct {
	// Delay paces the chunks; zero streams without pausing.
	Delay time.Duration
}

func (a EchoAssistant) Stream(ctx context.Context, history []models.ChatMessage, prompt string, onChunk ChunkFunc) (int, error) {
	reply := fmt.Sprintf("You said:\n\n> %s\n\n_(%d earlier messages in this conversation)_", prompt, len(history))

	chunks := splitWords(reply)
	for _, c := range chunks {
		if a.Delay > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(a.Delay):
			}
		} else if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := onChunk(c); err != nil {
			return 0, err
		}
	}
	return len(chunks), nil
}

// splitWords cuts s after each run of whitespace, so concatenating the parts
// gives back s exactly.
func splitWords(s string) []string {
	var parts []string
	start := 0
	inSpace := false
	for i, r := range s {
		space := unicode.IsSpace(r)
		if inSpace && !space {
			parts = append(parts, s[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}
