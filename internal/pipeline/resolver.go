// In file: internal/pipeline/resolver.go
// Package pipeline orchestrates answer resolution in strict priority order:
// cache check, local retrieval, conditional web augmentation, composition,
// cache write-back. Every expensive stage only runs when the cheaper ones
// could not settle the query, and no failure past input validation is ever
// fatal to a request.
package pipeline

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/margo-ai/travel-assistant/internal/api"
	"github.com/margo-ai/travel-assistant/internal/session"
)

const (
	// WebUnavailable replaces the web-info block when the search provider
	// fails or is not configured.
	WebUnavailable = "[web search unavailable]"

	// ComposerUnavailable is returned to the user when the model call
	// itself fails. It is never written to the answer cache.
	ComposerUnavailable = "Sorry, I could not reach the assistant brain right now. Please try again in a moment."

	defaultWebTimeout     = 20 * time.Second
	defaultComposeTimeout = 90 * time.Second
)

// ErrEmptyQuery reports an input fault: there is no usable query text, so
// the transport should answer "could not understand" instead of running the
// pipeline on emptiness.
var ErrEmptyQuery = errors.New("empty query text")

// DefaultTriggerWords mark time-sensitive intent. A query containing any of
// them goes to the web even when local context exists. English plus the
// Russian originals, since users write in both.
var DefaultTriggerWords = []string{
	"rate", "today", "weather", "price", "now", "news",
	"курс", "сегодня", "погода", "цена", "сейчас", "новости",
}

// Cache is the bounded answer store consulted before any expensive work.
type Cache interface {
	Lookup(query, history string) (string, bool)
	Store(query, history, answer string)
}

// Retriever produces the local context block for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// Searcher fetches supplementary live information.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Composer produces the final answer from the grounded prompt inputs.
type Composer interface {
	Compose(ctx context.Context, query, history, contextBlock, webInfo string) (string, api.Usage, error)
}

// Config tunes the pipeline's decision rules and stage timeouts.
type Config struct {
	TriggerWords   []string
	WebTimeout     time.Duration
	ComposeTimeout time.Duration
}

// Result is the outcome of one resolution.
type Result struct {
	Answer      string
	CacheHit    bool
	ContextUsed bool
	WebUsed     bool
	Usage       api.Usage
}

// Resolver runs the resolution pipeline over injected collaborators.
type Resolver struct {
	cache     Cache
	retriever Retriever
	searcher  Searcher
	composer  Composer
	sessions  *session.Store
	cfg       Config
}

// NewResolver wires the pipeline. searcher may be nil (web lookups then
// degrade to the unavailable sentinel); the other collaborators are
// required. A nil answercache.Store still satisfies Cache as a disabled
// cache.
func NewResolver(cache Cache, retriever Retriever, searcher Searcher, composer Composer, sessions *session.Store, cfg Config) *Resolver {
	if len(cfg.TriggerWords) == 0 {
		cfg.TriggerWords = DefaultTriggerWords
	}
	if cfg.WebTimeout <= 0 {
		cfg.WebTimeout = defaultWebTimeout
	}
	if cfg.ComposeTimeout <= 0 {
		cfg.ComposeTimeout = defaultComposeTimeout
	}
	return &Resolver{
		cache:     cache,
		retriever: retriever,
		searcher:  searcher,
		composer:  composer,
		sessions:  sessions,
		cfg:       cfg,
	}
}

// Resolve turns (user, query) into an answer. Stages run strictly in order
// with no backtracking; a cache hit short-circuits everything downstream.
// The history snapshot is taken before the current turn so the fingerprint
// of a repeated question stays stable, and both turns are appended after the
// answer on every path.
func (r *Resolver) Resolve(ctx context.Context, userID, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	// One resolution at a time per user, so concurrent messages cannot
	// interleave their history snapshots and appends.
	release := r.sessions.Acquire(userID)
	defer release()

	history := r.sessions.Serialized(userID)

	// Stage 1: cache check.
	if answer, ok := r.cache.Lookup(query, history); ok {
		log.Println("✅ Answer cache HIT")
		r.appendTurns(userID, query, answer)
		return &Result{Answer: answer, CacheHit: true}, nil
	}

	// Stage 2: local retrieval. Failure means empty context, never an abort.
	contextBlock := ""
	if ctxBlock, err := r.retriever.Retrieve(ctx, query); err != nil {
		log.Printf("⚠️ Retrieval degraded to empty context: %v", err)
	} else {
		contextBlock = ctxBlock
	}

	// Stage 3: conditional web augmentation.
	webInfo := ""
	webUsed := false
	if NeedsWeb(query, contextBlock, r.cfg.TriggerWords) {
		webUsed = true
		webInfo = r.augment(ctx, query)
	}

	// Stage 4: composition.
	composeCtx, cancel := context.WithTimeout(ctx, r.cfg.ComposeTimeout)
	answer, usage, err := r.composer.Compose(composeCtx, query, history, contextBlock, webInfo)
	cancel()
	if err != nil {
		log.Printf("⚠️ Composition failed, answering with sentinel: %v", err)
		r.appendTurns(userID, query, ComposerUnavailable)
		return &Result{
			Answer:      ComposerUnavailable,
			ContextUsed: contextBlock != "",
			WebUsed:     webUsed,
		}, nil
	}

	// Stage 5: cache write-back, so the next identical query hits stage 1.
	r.cache.Store(query, history, answer)

	r.appendTurns(userID, query, answer)
	return &Result{
		Answer:      answer,
		ContextUsed: contextBlock != "",
		WebUsed:     webUsed,
		Usage:       usage,
	}, nil
}

// augment runs the bounded web search, mapping every provider failure
// (including timeout and a missing provider) to the fixed sentinel.
func (r *Resolver) augment(ctx context.Context, query string) string {
	if r.searcher == nil {
		return WebUnavailable
	}
	searchCtx, cancel := context.WithTimeout(ctx, r.cfg.WebTimeout)
	defer cancel()

	info, err := r.searcher.Search(searchCtx, query)
	if err != nil {
		log.Printf("⚠️ Web search failed, using sentinel: %v", err)
		return WebUnavailable
	}
	return info
}

func (r *Resolver) appendTurns(userID, query, answer string) {
	r.sessions.Append(userID, "user", query)
	r.sessions.Append(userID, "assistant", answer)
}

// NeedsWeb decides whether live information is required: always when no
// local context survived retrieval, and also when the lowercased query
// contains any trigger word denoting time-sensitive intent.
func NeedsWeb(query, contextBlock string, triggerWords []string) bool {
	if contextBlock == "" {
		return true
	}
	lower := strings.ToLower(query)
	for _, word := range triggerWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
