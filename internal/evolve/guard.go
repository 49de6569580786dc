package evolve

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"scout/internal/config"
	"scout/internal/logging"
	"scout/internal/memory"
	"scout/internal/vector"
)

// questionFragmentPrefix tags stored exploration questions so the guard can
// search them without touching other fragments.
const questionFragmentPrefix = "learning:"

// learningClass scopes the per-class RW lock guarding learning fragments.
const learningClass = "learning"

// Guard decides whether a generated question should actually be explored.
// It enforces a rolling daily quota, an error backoff after repeated
// failures, and semantic deduplication against past questions.
type Guard struct {
	config   config.EvolveConfig
	memory   *memory.Store
	store    *vector.Store
	embedder vector.Embedder
	locks    *vector.ClassLocks
	logger   logging.Logger
	now      func() time.Time

	mu       sync.Mutex
	failures map[string]*failureState
}

type failureState struct {
	consecutive int
	blockedTill time.Time
}

// NewGuard wires the doom-loop guard. store and embedder may be nil, which
// disables semantic deduplication.
func NewGuard(cfg config.EvolveConfig, memoryStore *memory.Store, store *vector.Store, embedder vector.Embedder, locks *vector.ClassLocks) *Guard {
	if locks == nil {
		locks = vector.NewClassLocks()
	}
	return &Guard{
		config:   cfg,
		memory:   memoryStore,
		store:    store,
		embedder: embedder,
		locks:    locks,
		logger:   logging.NewComponentLogger("EvolveGuard"),
		now:      time.Now,
		failures: make(map[string]*failureState),
	}
}

// Allow reports whether the question may run now. When it may not, the
// returned reason explains why.
func (g *Guard) Allow(ctx context.Context, projectKey, question string) (bool, string) {
	if blocked, until := g.inBackoff(projectKey); blocked {
		return false, fmt.Sprintf("backoff after repeated failures until %s", until.Format(time.RFC3339))
	}
	if exceeded, used := g.quotaExceeded(projectKey); exceeded {
		return false, fmt.Sprintf("daily quota reached (%d/%d)", used, g.config.MaxDailyQuestions)
	}
	if dup, similar := g.isDuplicate(ctx, projectKey, question); dup {
		return false, "duplicate of: " + similar
	}
	return true, ""
}

func (g *Guard) inBackoff(projectKey string) (bool, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.failures[projectKey]
	if !ok || g.now().After(state.blockedTill) {
		return false, time.Time{}
	}
	return true, state.blockedTill
}

func (g *Guard) quotaExceeded(projectKey string) (bool, int) {
	mem, err := g.memory.Load(projectKey)
	if err != nil {
		g.logger.Warn("Quota check for %s failed open: %v", projectKey, err)
		return false, 0
	}
	status := mem.EvolutionStatus
	if !sameUTCDay(status.LastGeneratedAt, g.now()) {
		return false, 0
	}
	return status.QuestionsGeneratedToday >= g.config.MaxDailyQuestions, status.QuestionsGeneratedToday
}

func (g *Guard) isDuplicate(ctx context.Context, projectKey, question string) (bool, string) {
	if g.store == nil || g.embedder == nil {
		return false, ""
	}
	queryVector, err := g.embedder.Embed(ctx, question)
	if err != nil {
		// Dedup is best effort: an unavailable embedder never blocks a cycle.
		g.logger.Warn("Dedup embedding failed, allowing question: %v", err)
		return false, ""
	}
	var similar string
	_ = g.locks.ReadClass(projectKey, learningClass, func() error {
		for _, hit := range g.store.Search(queryVector, 5) {
			if !strings.HasPrefix(hit.Fragment.ID, questionFragmentPrefix) ||
				!strings.HasSuffix(hit.Fragment.ID, ":question") {
				continue
			}
			if hit.Score >= g.config.DuplicateThreshold {
				similar = hit.Fragment.Content
				return nil
			}
		}
		return nil
	})
	return similar != "", similar
}

// CountQuestion records that one question was sent for exploration, rolling
// the quota window on the first question of a new UTC day. The lifetime
// counter only moves on success, in RecordSuccess.
func (g *Guard) CountQuestion(projectKey string) error {
	now := g.now()
	return g.memory.Update(projectKey, func(mem *memory.ProjectMemory) {
		if !sameUTCDay(mem.EvolutionStatus.LastGeneratedAt, now) {
			mem.EvolutionStatus.QuestionsGeneratedToday = 0
		}
		mem.EvolutionStatus.QuestionsGeneratedToday++
		mem.EvolutionStatus.LastGeneratedAt = now
	})
}

// RecordFailure notes a failed exploration; after MaxConsecutiveErrors the
// project enters exponential backoff.
func (g *Guard) RecordFailure(projectKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.failures[projectKey]
	if !ok {
		state = &failureState{}
		g.failures[projectKey] = state
	}
	state.consecutive++
	if state.consecutive < g.config.MaxConsecutiveErrors {
		return
	}
	over := state.consecutive - g.config.MaxConsecutiveErrors
	delay := g.config.BaseBackoff
	for i := 0; i < over && delay < g.config.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > g.config.MaxBackoff {
		delay = g.config.MaxBackoff
	}
	state.blockedTill = g.now().Add(delay)
	g.logger.Warn("Project %s entering evolution backoff for %s after %d consecutive failures",
		projectKey, delay, state.consecutive)
}

// RecordSuccess clears the failure streak and counts the exploration towards
// the project's lifetime total.
func (g *Guard) RecordSuccess(projectKey string) {
	g.mu.Lock()
	delete(g.failures, projectKey)
	g.mu.Unlock()

	if err := g.memory.Update(projectKey, func(mem *memory.ProjectMemory) {
		mem.EvolutionStatus.TotalQuestionsExplored++
	}); err != nil {
		g.logger.Warn("Lifetime counter for %s: %v", projectKey, err)
	}
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
