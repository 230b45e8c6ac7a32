package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"tsdiag/internal/models"
	"tsdiag/internal/report"
)

// Advice holds the LLM-generated repair guidance for a finished session.
type Advice struct {
	Summary     string   `json:"summary"`
	LikelyCause string   `json:"likely_cause"`
	NextSteps   []string `json:"next_steps"`
}

// Client wraps the Anthropic API for repair advice.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildPrompt constructs the system and user prompts for repair advice.
func buildPrompt(rep *report.Report) (system string, user string) {
	system = `You are a repair bench assistant for mobile touchscreen diagnostics. Given a diagnostic report, return a JSON object with exactly three fields:

- "summary": A 1-3 sentence plain-language description of the screen's condition, suitable for a repair ticket.
- "likely_cause": The single most probable hardware cause, one sentence. Consider digitizer damage, flex connector seating, grounding problems, and liquid exposure.
- "next_steps": An array of 2-5 short repair actions for the bench technician, ordered most likely fix first.

Rules:
- Return valid JSON only, no markdown fencing or explanation
- Base the advice only on findings present in the report, never invent symptoms
- When the verdict is "healthy", say so and keep next_steps to a single confirmation step`

	sess := rep.Session
	var sb strings.Builder
	fmt.Fprintf(&sb, "Verdict: %s (score %d/100)\n", rep.Verdict, rep.Score.Total)
	fmt.Fprintf(&sb, "Session type: %s", sess.Type)
	if sess.DeviceModel != "" {
		fmt.Fprintf(&sb, ", device: %s", sess.DeviceModel)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Touches recorded: %d (%d ghost)\n", len(sess.TouchPoints), ghostCount(sess))
	fmt.Fprintf(&sb, "Score components: coverage %d/20, cell health %d/30, ghost activity %d/25, area impact %d/25\n",
		rep.Score.Coverage, rep.Score.CellHealth, rep.Score.GhostActivity, rep.Score.AreaImpact)

	if len(rep.Findings) == 0 {
		sb.WriteString("\nNo faulty areas were detected.\n")
	} else {
		sb.WriteString("\nFindings by hardware zone:\n")
		for _, f := range rep.Findings {
			fmt.Fprintf(&sb, "- %s (%s severity, %d area(s)): %s\n",
				f.Zone.Label, f.Worst, f.Count, strings.Join(f.Labels, "; "))
		}
	}
	if sess.Notes != "" {
		fmt.Fprintf(&sb, "\nTechnician notes: %s\n", sess.Notes)
	}
	user = sb.String()
	return
}

func ghostCount(sess *models.DiagnosticSession) int {
	n := 0
	for _, p := range sess.TouchPoints {
		if p.IsGhost {
			n++
		}
	}
	return n
}

// Advise sends a diagnostic report to the LLM and returns repair guidance.
func (c *Client) Advise(ctx context.Context, rep *report.Report) (*Advice, error) {
	systemPrompt, userPrompt := buildPrompt(rep)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	// Strip markdown fencing if present
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var advice Advice
	if err := json.Unmarshal([]byte(text), &advice); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}

	return &advice, nil
}
