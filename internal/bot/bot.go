// Package bot implements the Bot Policy of spec.md §4.B: choosing a bot
// opponent's move with level-scaled mistake/timeout probability, and sourcing
// the word itself from a deliberate mistake, the submission cache, the
// oracle, or the target word as a last resort.
package bot

import (
	"context"

	"golang.org/x/exp/rand"

	"github.com/hmcalister/wordduel-server/internal/config"
	"github.com/hmcalister/wordduel-server/internal/content"
	"github.com/hmcalister/wordduel-server/internal/domain"
	"github.com/hmcalister/wordduel-server/internal/oracle"
)

// Move is the bot's chosen action. A nil Word means the bot times out this
// turn (spec.md §4.B: "A nil word means 'bot times out this turn'").
type Move struct {
	Word       *string
	Creativity int
}

// Policy chooses bot moves. The RNG is the teacher's own generator type
// (golang.org/x/exp/rand), seeded once per process.
type Policy struct {
	cfg      config.BotConfig
	oracle   *oracle.Client
	provider content.Provider
	rng      *rand.Rand
}

func NewPolicy(cfg config.BotConfig, oracleClient *oracle.Client, provider content.Provider, rng *rand.Rand) *Policy {
	return &Policy{cfg: cfg, oracle: oracleClient, provider: provider, rng: rng}
}

// scaledProbability implements the linear-in-opponent-level scaling of
// spec.md §4.B, clamped at LevelCapForScaling: max at level 1, min at or
// above the cap.
func scaledProbability(opponentLevel, levelCap int, max, min float64) float64 {
	if levelCap <= 1 {
		return min
	}
	frac := float64(opponentLevel-1) / float64(levelCap-1)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return max - frac*(max-min)
}

func wordsSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	return out
}

// ChooseMove implements spec.md §4.B's five-step decision order.
func (p *Policy) ChooseMove(ctx context.Context, s *domain.Session, botPlayer domain.PlayerID) Move {
	opponent := s.Opponent(botPlayer)
	opponentLevel := 1
	if st := s.Players[opponent]; st != nil {
		opponentLevel = st.Level
	}

	mistakeProb := scaledProbability(opponentLevel, p.cfg.LevelCapForScaling, p.cfg.MaxMistakeProbability, p.cfg.MinMistakeProbability)
	timeoutProb := scaledProbability(opponentLevel, p.cfg.LevelCapForScaling, p.cfg.MaxTimeoutProbability, p.cfg.MinTimeoutProbability)

	played := wordsSlice(s.WordsPlayedThisRoundAll)

	// Step 1: deliberate mistake.
	if p.rng.Float64() < mistakeProb {
		word := s.Prompt.TargetWord
		if len(played) > 0 {
			word = played[p.rng.Intn(len(played))]
		}
		return Move{Word: &word, Creativity: 1}
	}

	// Step 2: timeout.
	if p.rng.Float64() < timeoutProb {
		return Move{Word: nil, Creativity: 0}
	}

	avoid := s.WordsPlayedThisRoundAll

	// Step 3: reuse a prior valid, creative submission.
	if rec, ok := p.provider.RandomReusableSubmission(ctx, s.Prompt.ID, avoid); ok {
		word := rec.SubmittedWord
		return Move{Word: &word, Creativity: rec.CreativityScore}
	}

	// Step 4: ask the oracle for a novel word, retrying once on an
	// empty/duplicate result.
	for attempt := 0; attempt < 2; attempt++ {
		word, creativity, err := p.oracle.GenerateWord(ctx, s.Prompt.TargetWord, s.Prompt.PromptText, s.Prompt.Sentence, s.Language, played)
		if err != nil || word == "" {
			continue
		}
		if _, dup := avoid[word]; dup {
			continue
		}
		return Move{Word: &word, Creativity: creativity}
	}

	// Step 5: fallback guarantees termination — the target word is always a
	// valid-but-uncreative move (spec.md §9 open question: the source allows
	// this, so this implementation does too).
	word := s.Prompt.TargetWord
	return Move{Word: &word, Creativity: 1}
}

// HumanizationDelaySeconds implements spec.md §4.B's closing paragraph:
// "1.0 + (creativity-1)*0.75 +/- 0.5s, clamped [0.5s, 4.0s]; 4-6s on
// timeout." It lives here rather than in the scheduler purely so tests can
// exercise the formula directly; the scheduler is still what calls it.
func HumanizationDelaySeconds(rng *rand.Rand, creativity int, isTimeout bool) float64 {
	if isTimeout {
		return 4.0 + rng.Float64()*2.0
	}
	base := 1.0 + float64(creativity-1)*0.75
	jitter := (rng.Float64()*2.0 - 1.0) * 0.5
	d := base + jitter
	if d < 0.5 {
		d = 0.5
	}
	if d > 4.0 {
		d = 4.0
	}
	return d
}
