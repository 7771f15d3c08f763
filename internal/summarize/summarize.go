// Package summarize implements the second pipeline stage: turn a session
// transcript into a structured markdown summary with an LLM.
package summarize

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"opendome.systems/pipeline/internal/queue"
)

const (
	completionTimeout = 5 * time.Minute

	// promptBudget bounds how much transcript goes into the prompt. Floor
	// sessions produce transcripts far past any context window; the opening
	// portion carries the calendar, readings, and most votes.
	promptBudget = 8000
)

const systemPrompt = `You are an expert legislative summarizer.

Given a Georgia legislature floor session transcript, generate structured markdown:
- **Overview**: 1-2 sentences on notable aspects
- **Key Actions**: Bills passed/referred (format: "**HR XXX**: description")
- **Bills Introduced (First Reading)**: Bills introduced
- **Notable Moments**: Speeches, recognitions, procedural drama
- **Votes**: Recorded votes with outcomes
- **Attendance**: Quorum notes
- **Adjournment**: When and next session date

Focus on substantive legislation. Skip routine procedures.
Format as markdown with proper headers.`

var billPattern = regexp.MustCompile(`[HS][BR]\s*\d+`)

var voteKeywords = []string{"passed", "failed", "voted", "unanimous", "opposed"}

// ExtractBills returns the distinct bill numbers (HB/HR/SB/SR) referenced in a
// transcript, sorted for stable prompts.
func ExtractBills(transcript string) []string {
	matches := billPattern.FindAllString(transcript, -1)
	seen := make(map[string]struct{}, len(matches))
	var bills []string
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		bills = append(bills, m)
	}
	sort.Strings(bills)
	return bills
}

// ExtractVoteKeywords reports which vote-related keywords appear in the
// transcript, in canonical order.
func ExtractVoteKeywords(transcript string) []string {
	lower := strings.ToLower(transcript)
	var found []string
	for _, kw := range voteKeywords {
		if strings.Contains(lower, kw) {
			found = append(found, kw)
		}
	}
	return found
}

// BuildUserPrompt assembles the per-video prompt: session context, detected
// bills and vote keywords, then the transcript head.
func BuildUserPrompt(video *queue.Video) string {
	bills := ExtractBills(video.Transcript)
	votes := ExtractVoteKeywords(video.Transcript)

	billsLine := "None detected"
	if len(bills) > 0 {
		billsLine = strings.Join(bills, ", ")
	}
	votesLine := "None detected"
	if len(votes) > 0 {
		votesLine = strings.Join(votes, ", ")
	}

	transcript := video.Transcript
	if len(transcript) > promptBudget {
		transcript = transcript[:promptBudget]
	}

	return fmt.Sprintf(`Summarize this Georgia %s session from %s.
Bills mentioned: %s
Vote keywords: %s

TRANSCRIPT:
%s`, video.DisplayTitle(), video.VideoDate, billsLine, votesLine, transcript)
}

// completionClient is the slice of the OpenAI client the processor uses.
type completionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Processor generates summaries via chat completions.
type Processor struct {
	client    completionClient
	model     string
	maxTokens int
}

// New constructs the stage processor. apiKey must be set; workers without a
// key should not claim summarize work at all.
func New(apiKey, model string, maxTokens int) (*Processor, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("summarize: api key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = openai.GPT4oMini
	}
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &Processor{
		client:    openai.NewClient(apiKey),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Process implements worker.Processor.
func (p *Processor) Process(ctx context.Context, video *queue.Video) (queue.Payload, error) {
	if strings.TrimSpace(video.Transcript) == "" {
		return queue.Payload{}, fmt.Errorf("empty transcript")
	}

	reqCtx, cancel := context.WithTimeout(ctx, completionTimeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildUserPrompt(video)},
		},
	})
	if err != nil {
		return queue.Payload{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return queue.Payload{}, fmt.Errorf("chat completion returned no choices")
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return queue.Payload{}, fmt.Errorf("chat completion returned empty summary")
	}

	return queue.Payload{Summary: summary}, nil
}
