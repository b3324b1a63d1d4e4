// In file: internal/pipeline/resolver_test.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/margo-ai/travel-assistant/internal/answercache"
	"github.com/margo-ai/travel-assistant/internal/api"
	"github.com/margo-ai/travel-assistant/internal/session"
)

type fakeRetriever struct {
	contextBlock string
	err          error
	calls        int
}

func (f *fakeRetriever) Retrieve(context.Context, string) (string, error) {
	f.calls++
	return f.contextBlock, f.err
}

type fakeSearcher struct {
	info  string
	err   error
	calls int
}

func (f *fakeSearcher) Search(context.Context, string) (string, error) {
	f.calls++
	return f.info, f.err
}

// fakeComposer answers deterministically from its inputs and counts calls,
// so tests can assert that a cache hit short-circuits composition.
type fakeComposer struct {
	err     error
	calls   int
	lastWeb string
}

func (f *fakeComposer) Compose(_ context.Context, query, history, contextBlock, webInfo string) (string, api.Usage, error) {
	f.calls++
	f.lastWeb = webInfo
	if f.err != nil {
		return "", api.Usage{}, f.err
	}
	return fmt.Sprintf("Based on: %s", contextBlock), api.Usage{TotalTokens: 7}, nil
}

func newTestCache(t *testing.T) *answercache.Store {
	t.Helper()
	c, err := answercache.New(filepath.Join(t.TempDir(), "answers.db"), 10)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEmptyQueryIsAnInputFault(t *testing.T) {
	r := NewResolver(newTestCache(t), &fakeRetriever{}, nil, &fakeComposer{}, session.NewStore(0, 0), Config{})

	if _, err := r.Resolve(context.Background(), "margo", "   \n "); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("err = %v, want ErrEmptyQuery", err)
	}
}

func TestNeedsWeb(t *testing.T) {
	cases := []struct {
		name         string
		query        string
		contextBlock string
		want         bool
	}{
		{"empty context always needs web", "tell me about Sigiriya", "", true},
		{"trigger word overrides context", "what is the weather today?", "some context", true},
		{"context and no trigger", "tell me about Sigiriya", "some context", false},
		{"russian trigger word", "какая погода?", "some context", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NeedsWeb(tc.query, tc.contextBlock, DefaultTriggerWords); got != tc.want {
				t.Errorf("NeedsWeb(%q, %q) = %v, want %v", tc.query, tc.contextBlock, got, tc.want)
			}
		})
	}
}

func TestCacheHitShortCircuitsComposer(t *testing.T) {
	cache := newTestCache(t)
	composer := &fakeComposer{}
	retriever := &fakeRetriever{contextBlock: "The total budget is $2500 for 3 months."}

	// Two resolver instances over the same persistent cache, each with a
	// fresh session store: the history at call time is identical, as after
	// a process restart.
	first := NewResolver(cache, retriever, nil, composer, session.NewStore(0, 0), Config{})
	got1, err := first.Resolve(context.Background(), "margo", "What is the total trip budget?")
	if err != nil {
		t.Fatal(err)
	}
	if got1.CacheHit {
		t.Error("first call should be a miss")
	}
	if !strings.Contains(got1.Answer, "2500") {
		t.Errorf("answer should be grounded in the index passage: %q", got1.Answer)
	}

	second := NewResolver(cache, retriever, nil, composer, session.NewStore(0, 0), Config{})
	got2, err := second.Resolve(context.Background(), "margo", "What is the total trip budget?")
	if err != nil {
		t.Fatal(err)
	}
	if !got2.CacheHit {
		t.Error("second identical call should hit the cache")
	}
	if got2.Answer != got1.Answer {
		t.Errorf("cached answer %q differs from original %q", got2.Answer, got1.Answer)
	}
	if composer.calls != 1 {
		t.Errorf("composer calls = %d, want 1 (hit must short-circuit)", composer.calls)
	}
}

func TestChangedHistoryChangesFingerprint(t *testing.T) {
	cache := newTestCache(t)
	composer := &fakeComposer{}
	r := NewResolver(cache, &fakeRetriever{contextBlock: "ctx"}, nil, composer, session.NewStore(0, 0), Config{})

	// Same query twice within one live session: the first exchange is now
	// part of the history, so the pair fingerprints differently and the
	// composer runs again.
	if _, err := r.Resolve(context.Background(), "margo", "tell me about Sigiriya"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(context.Background(), "margo", "tell me about Sigiriya"); err != nil {
		t.Fatal(err)
	}
	if composer.calls != 2 {
		t.Errorf("composer calls = %d, want 2", composer.calls)
	}
}

func TestWebSearchFailureUsesSentinel(t *testing.T) {
	composer := &fakeComposer{}
	searcher := &fakeSearcher{err: errors.New("provider down")}
	r := NewResolver(newTestCache(t), &fakeRetriever{}, searcher, composer, session.NewStore(0, 0), Config{})

	got, err := r.Resolve(context.Background(), "margo", "what's the usd rate?")
	if err != nil {
		t.Fatal(err)
	}
	if got.Answer == "" {
		t.Error("pipeline should still compose an answer")
	}
	if composer.lastWeb != WebUnavailable {
		t.Errorf("web info = %q, want unavailable sentinel", composer.lastWeb)
	}
}

func TestNilSearcherUsesSentinel(t *testing.T) {
	composer := &fakeComposer{}
	r := NewResolver(newTestCache(t), &fakeRetriever{}, nil, composer, session.NewStore(0, 0), Config{})

	if _, err := r.Resolve(context.Background(), "margo", "anything"); err != nil {
		t.Fatal(err)
	}
	if composer.lastWeb != WebUnavailable {
		t.Errorf("web info = %q, want unavailable sentinel", composer.lastWeb)
	}
}

func TestNoWebCallWithContextAndNoTrigger(t *testing.T) {
	searcher := &fakeSearcher{info: "live info"}
	r := NewResolver(newTestCache(t), &fakeRetriever{contextBlock: "plenty of context"}, searcher, &fakeComposer{}, session.NewStore(0, 0), Config{})

	got, err := r.Resolve(context.Background(), "margo", "tell me about Sigiriya")
	if err != nil {
		t.Fatal(err)
	}
	if searcher.calls != 0 {
		t.Errorf("searcher calls = %d, want 0", searcher.calls)
	}
	if got.WebUsed {
		t.Error("WebUsed should be false when augmentation was skipped")
	}
	if !got.ContextUsed {
		t.Error("ContextUsed should be true")
	}
}

func TestRetrievalFailureDegradesToEmptyContext(t *testing.T) {
	searcher := &fakeSearcher{info: "live info"}
	r := NewResolver(newTestCache(t), &fakeRetriever{err: errors.New("index offline")}, searcher, &fakeComposer{}, session.NewStore(0, 0), Config{})

	got, err := r.Resolve(context.Background(), "margo", "tell me about Sigiriya")
	if err != nil {
		t.Fatal(err)
	}
	if got.ContextUsed {
		t.Error("failed retrieval must present as empty context")
	}
	if searcher.calls != 1 {
		t.Error("empty context should trigger web augmentation")
	}
}

func TestComposerFailureIsNotCached(t *testing.T) {
	cache := newTestCache(t)
	composer := &fakeComposer{err: errors.New("model unreachable")}
	r := NewResolver(cache, &fakeRetriever{contextBlock: "ctx"}, nil, composer, session.NewStore(0, 0), Config{})

	got, err := r.Resolve(context.Background(), "margo", "budget?")
	if err != nil {
		t.Fatal(err)
	}
	if got.Answer != ComposerUnavailable {
		t.Errorf("answer = %q, want the unavailable sentinel", got.Answer)
	}
	if entries := cache.Stats().Entries; entries != 0 {
		t.Errorf("cache entries = %d; failure sentinels must not be cached", entries)
	}
}

func TestResolveSurvivesDisabledCache(t *testing.T) {
	var disabled *answercache.Store
	r := NewResolver(disabled, &fakeRetriever{contextBlock: "ctx"}, nil, &fakeComposer{}, session.NewStore(0, 0), Config{})

	got, err := r.Resolve(context.Background(), "margo", "budget?")
	if err != nil {
		t.Fatal(err)
	}
	if got.Answer == "" || got.CacheHit {
		t.Errorf("unexpected result with disabled cache: %+v", got)
	}
}

func TestHistoryAppendedOnEveryPath(t *testing.T) {
	cache := newTestCache(t)
	sessions := session.NewStore(0, 0)
	r := NewResolver(cache, &fakeRetriever{contextBlock: "ctx"}, nil, &fakeComposer{}, sessions, Config{})

	if _, err := r.Resolve(context.Background(), "margo", "first question"); err != nil {
		t.Fatal(err)
	}
	serialized := sessions.Serialized("margo")
	if !strings.Contains(serialized, "user: first question") || !strings.Contains(serialized, "assistant: ") {
		t.Errorf("history missing turns after miss path: %q", serialized)
	}

	// Hit path appends too: prime a hit by resolving the same pair as a
	// different user with an identical (empty) history.
	sessions2 := session.NewStore(0, 0)
	r2 := NewResolver(cache, &fakeRetriever{contextBlock: "ctx"}, nil, &fakeComposer{}, sessions2, Config{})
	got, err := r2.Resolve(context.Background(), "other", "first question")
	if err != nil {
		t.Fatal(err)
	}
	if !got.CacheHit {
		t.Fatal("expected hit for identical (query, history) pair")
	}
	if !strings.Contains(sessions2.Serialized("other"), "user: first question") {
		t.Error("history missing turns after hit path")
	}
}
