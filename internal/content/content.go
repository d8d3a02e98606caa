// Package content defines the Content Provider contract of spec.md §4.C: a
// random-prompt source and a best-effort persistence sink for submissions,
// scores, and finalized games. The real persistence collaborator (ORM,
// migrations, schema) is out of scope per spec.md §1; InMemoryProvider is a
// drop-in fake suitable for tests and for running the core without a
// database.
package content

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"

	"github.com/hmcalister/wordduel-server/internal/domain"
)

// Provider is the contract consumed by the Validation Oracle Client (cache
// lookups), the Session State Machine (prompt fetch, score/finalize), and
// the Bot Policy (submission-cache reuse).
type Provider interface {
	RandomPrompt(ctx context.Context, language string) (*domain.Prompt, error)
	CreateGame(ctx context.Context, matchmakingID string, p1, p2 domain.PlayerID, language string) (int64, error)
	LogSubmission(ctx context.Context, rec domain.SubmissionRecord)
	UpdateScore(ctx context.Context, gameDBID int64, player domain.PlayerID, score int)
	FinalizeGame(ctx context.Context, gameDBID int64, winner *domain.PlayerID, status domain.Status, endReason domain.EndReason)
	IncrementEmojis(ctx context.Context, gameDBID int64, player domain.PlayerID)

	// LatestSubmission returns the most recent record for (promptID, word)
	// case-insensitively, implementing the oracle cache of spec.md §4.A.
	LatestSubmission(ctx context.Context, promptID int64, word string) (domain.SubmissionRecord, bool)

	// RandomReusableSubmission implements spec.md §4.B step 3: a random
	// previous valid, creative submission for promptID not in avoid.
	RandomReusableSubmission(ctx context.Context, promptID int64, avoid map[string]struct{}) (domain.SubmissionRecord, bool)
}

// InMemoryProvider is the default Provider: everything lives in process
// memory behind one mutex, mirroring the teacher's gameMap+sync.RWMutex
// pattern. Failures are impossible here by construction, which matches
// spec.md §4.C's "fire-and-best-effort" contract trivially; a real database
// implementation must preserve that same never-block-the-game guarantee.
type InMemoryProvider struct {
	mu sync.RWMutex

	promptsByLanguage map[string][]*domain.Prompt
	submissions       []domain.SubmissionRecord
	gameCounter       int64

	rng *rand.Rand
}

// NewInMemoryProvider builds a provider pre-seeded with prompts.
func NewInMemoryProvider(seed int64, prompts []*domain.Prompt) *InMemoryProvider {
	p := &InMemoryProvider{
		promptsByLanguage: make(map[string][]*domain.Prompt),
		rng:               rand.New(rand.NewSource(seed)),
	}
	for _, pr := range prompts {
		p.promptsByLanguage[pr.Language] = append(p.promptsByLanguage[pr.Language], pr)
	}
	return p
}

func (p *InMemoryProvider) RandomPrompt(_ context.Context, language string) (*domain.Prompt, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pool := p.promptsByLanguage[language]
	if len(pool) == 0 {
		return nil, nil
	}
	return pool[p.rng.Intn(len(pool))], nil
}

func (p *InMemoryProvider) CreateGame(_ context.Context, _ string, _, _ domain.PlayerID, _ string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gameCounter++
	return p.gameCounter, nil
}

func (p *InMemoryProvider) LogSubmission(_ context.Context, rec domain.SubmissionRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec.SubmittedWord = strings.ToLower(strings.TrimSpace(rec.SubmittedWord))
	p.submissions = append(p.submissions, rec)
}

func (p *InMemoryProvider) UpdateScore(_ context.Context, gameDBID int64, player domain.PlayerID, score int) {
	log.Debug().Int64("game_db_id", gameDBID).Int64("player", int64(player)).Int("score", score).Msg("content: update score")
}

func (p *InMemoryProvider) FinalizeGame(_ context.Context, gameDBID int64, winner *domain.PlayerID, status domain.Status, endReason domain.EndReason) {
	ev := log.Debug().Int64("game_db_id", gameDBID).Str("status", string(status)).Str("reason", string(endReason))
	if winner != nil {
		ev = ev.Int64("winner", int64(*winner))
	}
	ev.Msg("content: finalize game")
}

func (p *InMemoryProvider) IncrementEmojis(_ context.Context, gameDBID int64, player domain.PlayerID) {
	log.Debug().Int64("game_db_id", gameDBID).Int64("player", int64(player)).Msg("content: increment emojis")
}

func (p *InMemoryProvider) LatestSubmission(_ context.Context, promptID int64, word string) (domain.SubmissionRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	word = strings.ToLower(strings.TrimSpace(word))
	var latest domain.SubmissionRecord
	found := false
	for _, rec := range p.submissions {
		if rec.PromptID == promptID && rec.SubmittedWord == word {
			if !found || rec.CreatedAt.After(latest.CreatedAt) {
				latest = rec
				found = true
			}
		}
	}
	return latest, found
}

func (p *InMemoryProvider) RandomReusableSubmission(_ context.Context, promptID int64, avoid map[string]struct{}) (domain.SubmissionRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var candidates []domain.SubmissionRecord
	for _, rec := range p.submissions {
		if rec.PromptID != promptID || !rec.IsValid || rec.CreativityScore <= 1 {
			continue
		}
		if _, skip := avoid[rec.SubmittedWord]; skip {
			continue
		}
		candidates = append(candidates, rec)
	}
	if len(candidates) == 0 {
		return domain.SubmissionRecord{}, false
	}
	return candidates[p.rng.Intn(len(candidates))], true
}
