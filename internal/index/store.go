// Package index keeps a per-meeting retrieval index of transcript chunks
// and answers questions against it with an LLM.
package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/user/notetaker/internal/types"
)

// Splitter cuts text into overlapping windows.
type Splitter interface {
	Split(text string, size, overlap int) []string
}

// Options controls chunking and retrieval.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
}

func (o *Options) setDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1000
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = o.ChunkSize / 5
	}
	if o.TopK <= 0 {
		o.TopK = 3
	}
}

type chunk struct {
	Text  string         `msgpack:"text"`
	Terms map[string]int `msgpack:"terms"`
}

type document struct {
	MeetingID string    `msgpack:"meeting_id"`
	Chunks    []chunk   `msgpack:"chunks"`
	UpdatedAt time.Time `msgpack:"updated_at"`
}

// Store is a msgpack-file-backed index. Each meeting is stored in
// index/<id>.msgpack.
type Store struct {
	root     string
	splitter Splitter
	opts     Options
	mu       sync.RWMutex
}

// NewStore creates an index rooted at the given directory. splitter may be
// nil, in which case chunk sizes are measured in runes.
func NewStore(root string, splitter Splitter, opts Options) *Store {
	opts.setDefaults()
	if splitter == nil {
		splitter = runeSplitter{}
	}
	return &Store{root: root, splitter: splitter, opts: opts}
}

func (s *Store) path(id types.MeetingID) string {
	return filepath.Join(s.root, "index", string(id)+".msgpack")
}

// RenderSegments formats segments as the speaker-annotated text that is
// chunked into the index.
func RenderSegments(segments []types.Segment) string {
	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		speaker := seg.SpeakerID
		if speaker == "" {
			speaker = "Unknown"
		}
		lines = append(lines, fmt.Sprintf("Speaker %s (%.2fs): %s", speaker, seg.Start, strings.TrimSpace(seg.Text)))
	}
	return strings.Join(lines, "\n")
}

// Upsert replaces the meeting's index with chunks of its segments.
func (s *Store) Upsert(ctx context.Context, id types.MeetingID, segments []types.Segment) error {
	if !types.ValidMeetingID(id) {
		return fmt.Errorf("meeting %s: %w", id, types.ErrNotFound)
	}
	if len(segments) == 0 {
		return nil
	}

	texts := s.splitter.Split(RenderSegments(segments), s.opts.ChunkSize, s.opts.ChunkOverlap)
	doc := document{
		MeetingID: string(id),
		Chunks:    make([]chunk, 0, len(texts)),
		UpdatedAt: time.Now().UTC(),
	}
	for _, text := range texts {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc.Chunks = append(doc.Chunks, chunk{Text: text, Terms: termCounts(text)})
	}

	data, err := msgpack.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(id)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp index: %w", err)
	}
	return nil
}

// Delete removes the meeting's index. Missing indexes are not an error.
func (s *Store) Delete(_ context.Context, id types.MeetingID) error {
	if !types.ValidMeetingID(id) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete index: %w", err)
	}
	return nil
}

func (s *Store) load(id types.MeetingID) (*document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("index for %s: %w", id, types.ErrNotFound)
		}
		return nil, fmt.Errorf("read index: %w", err)
	}
	var doc document
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal index: %w", err)
	}
	return &doc, nil
}

// Retrieve returns up to TopK chunks ranked by term overlap with query.
func (s *Store) Retrieve(_ context.Context, id types.MeetingID, query string) ([]string, error) {
	if !types.ValidMeetingID(id) {
		return nil, fmt.Errorf("index for %s: %w", id, types.ErrNotFound)
	}
	doc, err := s.load(id)
	if err != nil {
		return nil, err
	}

	queryTerms := termCounts(query)
	type scored struct {
		idx   int
		score int
	}
	ranked := make([]scored, 0, len(doc.Chunks))
	for i, c := range doc.Chunks {
		score := 0
		for term := range queryTerms {
			score += c.Terms[term]
		}
		ranked = append(ranked, scored{idx: i, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	k := s.opts.TopK
	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]string, 0, k)
	for _, r := range ranked[:k] {
		out = append(out, doc.Chunks[r.idx].Text)
	}
	return out, nil
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "is": true, "it": true, "what": true, "who": true,
	"was": true, "were": true, "did": true, "do": true, "for": true, "on": true,
	"speaker": true,
}

func termCounts(text string) map[string]int {
	terms := make(map[string]int)
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(word) < 2 || stopwords[word] {
			continue
		}
		terms[word]++
	}
	return terms
}

// runeSplitter measures windows in runes when no tokenizer is available.
type runeSplitter struct{}

func (runeSplitter) Split(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	var chunks []string
	step := size - overlap
	if step <= 0 {
		step = size
	}
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

var _ types.Indexer = (*Store)(nil)
