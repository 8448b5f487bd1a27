package summarize

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"github.com/BurntSushi/toml"
)

// DefaultSummaryPrompt asks for a short neutral overview.
const DefaultSummaryPrompt = `You are an expert meeting summarizer tasked with creating a concise, neutral overview.
Your summary should:
1. Start with the main purpose or outcome of the meeting.
2. Briefly list the 2-4 most important topics discussed.
3. Mention any key conclusions or agreements reached.
4. Be written in clear, professional language.
5. Avoid personal opinions, speculation, or excessive detail.
6. Focus solely on information present in the transcript.

TRANSCRIPT:
{{.Transcript}}

CONCISE SUMMARY:`

// DefaultActionItemsPrompt asks for a bullet list of assigned tasks.
const DefaultActionItemsPrompt = `Analyze the following meeting transcript. Extract only the clear, specific, and actionable tasks assigned during the meeting.
- List each action item as a separate bullet point (using '- ').
- If possible, include who is responsible for the action item. Format as: "- [Action Description] (Owner: [Name/Group])"
- Do not include general discussion, suggestions, or items already completed.
- If no specific action items were assigned, respond ONLY with the text "No action items identified.".

TRANSCRIPT:
{{.Transcript}}

ACTION ITEMS:`

// DefaultDecisionsPrompt asks for a bullet list of agreed outcomes.
const DefaultDecisionsPrompt = `Review the following meeting transcript. Identify and extract only the explicit decisions, agreements, or resolutions made by the participants.
- List each decision as a separate bullet point (using '- ').
- Focus on final outcomes, not the discussion leading up to them.
- Do not include proposals that were not agreed upon or general statements.
- If no explicit decisions were made, respond ONLY with the text "No decisions identified.".

TRANSCRIPT:
{{.Transcript}}

DECISIONS MADE:`

// Prompts holds the three analysis prompt templates. Each is a
// text/template rendered with a PromptData value.
type Prompts struct {
	Summary     string `toml:"summary"`
	ActionItems string `toml:"action_items"`
	Decisions   string `toml:"decisions"`
}

// PromptData is the data passed to prompt templates.
type PromptData struct {
	Transcript string
}

// DefaultPrompts returns the built-in prompts.
func DefaultPrompts() Prompts {
	return Prompts{
		Summary:     DefaultSummaryPrompt,
		ActionItems: DefaultActionItemsPrompt,
		Decisions:   DefaultDecisionsPrompt,
	}
}

// LoadPrompts reads prompt overrides from a TOML file. Missing keys keep
// their defaults; an empty path or missing file returns the defaults.
func LoadPrompts(path string) (Prompts, error) {
	prompts := DefaultPrompts()
	if path == "" {
		return prompts, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return prompts, nil
	}

	var fp Prompts
	if _, err := toml.DecodeFile(path, &fp); err != nil {
		return prompts, fmt.Errorf("decode prompts %s: %w", path, err)
	}
	if fp.Summary != "" {
		prompts.Summary = fp.Summary
	}
	if fp.ActionItems != "" {
		prompts.ActionItems = fp.ActionItems
	}
	if fp.Decisions != "" {
		prompts.Decisions = fp.Decisions
	}

	if err := prompts.validate(); err != nil {
		return DefaultPrompts(), err
	}
	return prompts, nil
}

func (p Prompts) validate() error {
	for name, text := range map[string]string{"summary": p.Summary, "action_items": p.ActionItems, "decisions": p.Decisions} {
		if _, err := template.New(name).Parse(text); err != nil {
			return fmt.Errorf("parse %s prompt: %w", name, err)
		}
	}
	return nil
}

func render(name, text string, data PromptData) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s prompt: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return buf.String(), nil
}
