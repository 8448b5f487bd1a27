package index

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/user/notetaker/internal/types"
	"github.com/user/notetaker/pkg/llm"
)

const answerPrompt = `You are a helpful assistant. Answer the question based primarily on the provided context.
Try to infer the answer from the context if it's not explicitly stated.
Do not include any disclaimers or unnecessary information in your response and avoid using <think> tags.
If the context doesn't provide any clues to answer the question, state that the transcript doesn't contain that information.

Context:
%s

Question: %s

Answer:`

const classifyPrompt = `Classify the user's input. Respond with only one of the following labels:
- "small_talk": for casual or social conversation (e.g., greetings, chitchat)
- "rag": if the question needs context from a transcript to answer
- "other": if it's something else (e.g., meta-questions, feedback)

Input: %s
Label:`

// NoContextAnswer is returned when a meeting has nothing indexed.
const NoContextAnswer = "The transcript for this meeting has not been indexed yet."

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)

// Chat answers questions about one meeting from its index.
type Chat struct {
	store    *Store
	provider llm.Provider
}

// NewChat creates a Chat over store using provider.
func NewChat(store *Store, provider llm.Provider) *Chat {
	return &Chat{store: store, provider: provider}
}

// Ask retrieves the most relevant chunks and asks the model to answer from them.
func (c *Chat) Ask(ctx context.Context, id types.MeetingID, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.New("question must not be empty")
	}

	if c.isSmallTalk(ctx, question) {
		return smallTalkReply(question), nil
	}

	chunks, err := c.store.Retrieve(ctx, id, question)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return NoContextAnswer, nil
		}
		return "", err
	}

	prompt := fmt.Sprintf(answerPrompt, strings.Join(chunks, "\n\n"), question)
	reply, err := llm.Ask(ctx, c.provider, "", prompt)
	if err != nil {
		return "", &types.CollaboratorError{Op: "answer question", Err: err}
	}
	return CleanAnswer(reply), nil
}

// isSmallTalk asks the model to label the question. Anything other than a
// clean small_talk label, including a failed call, goes to retrieval.
func (c *Chat) isSmallTalk(ctx context.Context, question string) bool {
	reply, err := llm.Ask(ctx, c.provider, "", fmt.Sprintf(classifyPrompt, question))
	if err != nil {
		return false
	}
	label := strings.ToLower(strings.Trim(CleanAnswer(reply), " \t\n\"'`."))
	return label == "small_talk"
}

func smallTalkReply(question string) string {
	q := strings.ToLower(question)
	words := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	switch {
	case slices.ContainsFunc(words, func(w string) bool { return w == "hi" || w == "hello" || w == "hey" }):
		return "Hello! How can I assist you today?"
	case strings.Contains(q, "how are you"):
		return "I'm just a bunch of code, but happy to help!"
	case slices.ContainsFunc(words, func(w string) bool { return w == "thanks" || w == "thank" }):
		return "You're welcome!"
	case slices.ContainsFunc(words, func(w string) bool { return w == "bye" || w == "goodbye" }):
		return "Goodbye! Have a great day."
	}
	return "Nice to chat! What else can I help you with?"
}

// CleanAnswer strips reasoning blocks and a leading "Answer:" label.
func CleanAnswer(s string) string {
	s = strings.TrimSpace(thinkBlock.ReplaceAllString(s, ""))
	if strings.HasPrefix(strings.ToLower(s), "answer:") {
		s = strings.TrimSpace(s[len("answer:"):])
	}
	return s
}

var _ types.Asker = (*Chat)(nil)
