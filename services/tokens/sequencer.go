// Package tokens issues the daily sequential tokens students show at the
// counter and merges repeat checkouts into the day's existing token.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"messmate/pkg/metrics"
	"messmate/pkg/retry"
	"messmate/services/store"
)

var (
	// ErrTokenExists is returned by Mint when the user already holds a token
	// for the day. Callers merge into that token instead.
	ErrTokenExists = errors.New("token already issued for user and day")

	errSeqTaken = errors.New("sequence taken")
)

// SequenceStore is the persistence the sequencer needs.
type SequenceStore interface {
	ReserveSeq(ctx context.Context, day string) (int, error)
	InsertToken(ctx context.Context, t *store.Token) error
	TokenByUserDay(ctx context.Context, email, day string) (*store.Token, error)
}

// SequencerConfig bounds the insert retry loop.
type SequencerConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	Jitter      time.Duration
}

// DefaultSequencerConfig retries five times, 100-200ms apart.
func DefaultSequencerConfig() SequencerConfig {
	return SequencerConfig{MaxAttempts: 5, Backoff: 150 * time.Millisecond, Jitter: 50 * time.Millisecond}
}

// Sequencer mints per-day token values that are unique and strictly
// increasing in issuance order.
type Sequencer struct {
	store  SequenceStore
	policy retry.Policy
	log    zerolog.Logger
	now    func() time.Time
}

// NewSequencer returns a Sequencer backed by s.
func NewSequencer(s SequenceStore, cfg SequencerConfig, log zerolog.Logger) *Sequencer {
	return &Sequencer{
		store: s,
		policy: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     cfg.Backoff,
			Jitter:      cfg.Jitter,
			Retryable:   func(err error) bool { return errors.Is(err, errSeqTaken) },
		},
		log: log.With().Str("component", "sequencer").Logger(),
		now: time.Now,
	}
}

// Mint assigns the next sequence of draft.Day to draft and inserts it. When
// every attempt collides it falls back to a non-sequential value with Seq 0.
func (s *Sequencer) Mint(ctx context.Context, draft store.Token) (*store.Token, error) {
	var minted *store.Token
	attempt := 0
	err := retry.Attempt(ctx, s.policy, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			metrics.TokenRetries.Inc()
		}

		seq, err := s.store.ReserveSeq(ctx, draft.Day)
		if err != nil {
			if store.IsDuplicate(err) {
				return errSeqTaken
			}
			return fmt.Errorf("reserve sequence: %w", err)
		}

		t := draft
		t.Seq = seq
		t.Token = strconv.Itoa(seq)
		if err := s.insert(ctx, &t); err != nil {
			return err
		}
		minted = &t
		return nil
	})
	switch {
	case err == nil:
		metrics.TokensIssued.Inc()
		return minted, nil
	case errors.Is(err, retry.ErrExhausted):
		return s.fallback(ctx, draft, attempt)
	default:
		return nil, err
	}
}

// insert stores t and classifies a uniqueness violation: a clash on the
// user's day means a concurrent checkout won, anything else is a taken value.
func (s *Sequencer) insert(ctx context.Context, t *store.Token) error {
	err := s.store.InsertToken(ctx, t)
	if err == nil {
		return nil
	}
	if !store.IsDuplicate(err) {
		return fmt.Errorf("insert token: %w", err)
	}
	if _, lookupErr := s.store.TokenByUserDay(ctx, t.UserEmail, t.Day); lookupErr == nil {
		return ErrTokenExists
	} else if !store.IsNotFound(lookupErr) {
		return fmt.Errorf("check existing token: %w", lookupErr)
	}
	return errSeqTaken
}

func (s *Sequencer) fallback(ctx context.Context, draft store.Token, attempts int) (*store.Token, error) {
	id := uuid.New()

	t := draft
	t.Seq = 0
	t.Token = fmt.Sprintf("%d-%x", s.now().UnixMilli(), id[:4])
	if err := s.insert(ctx, &t); err != nil {
		if errors.Is(err, errSeqTaken) {
			return nil, fmt.Errorf("fallback token %s collided", t.Token)
		}
		return nil, err
	}

	metrics.TokensFallback.Inc()
	s.log.Warn().
		Str("day", t.Day).
		Str("email", t.UserEmail).
		Str("token", t.Token).
		Int("attempts", attempts).
		Msg("sequential token unavailable, issued fallback")
	return &t, nil
}
