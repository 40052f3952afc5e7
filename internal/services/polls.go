// Package services contains the core business logic for QuickPoll.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/quickpoll/backend/internal/broker"
	"github.com/quickpoll/backend/internal/db"
	"github.com/quickpoll/backend/internal/metrics"
)

const (
	// MaxOptions is the largest number of options a poll may have.
	MaxOptions = 100
	// MaxTextLength bounds the question and each option text, in runes.
	MaxTextLength = 500

	lockStripes = 64
)

var (
	// ErrNotFound is wrapped by every lookup failure.
	ErrNotFound = errors.New("not found")
	// ErrPollNotFound is returned when the poll id does not exist.
	ErrPollNotFound = fmt.Errorf("poll %w", ErrNotFound)
	// ErrOptionNotFound is returned when the option id does not exist on the poll.
	ErrOptionNotFound = fmt.Errorf("option %w", ErrNotFound)
	// ErrInvalidPoll is returned when a create request fails validation.
	ErrInvalidPoll = errors.New("invalid poll")
)

// Mutation operation names used in metrics.
const (
	opCreate = "create"
	opVote   = "vote"
	opLike   = "like"
)

// Publisher receives domain events once the change they describe is committed.
type Publisher interface {
	Publish(event broker.Event) broker.Report
}

// PollWithOptions is a poll together with its options in insertion order.
type PollWithOptions struct {
	db.Poll
	Options []db.PollOption
}

// CreatedAtTime returns the creation timestamp in UTC.
func (p PollWithOptions) CreatedAtTime() time.Time {
	return time.UnixMilli(p.CreatedAt).UTC()
}

// PollService applies poll mutations and publishes the resulting events.
// Vote and like increments for the same poll are committed and published under
// one lock, so subscribers observe counts in commit order. A poll's creation is
// published before any vote or like on it.
type PollService struct {
	db        *sql.DB
	queries   *db.Queries
	publisher Publisher
	metrics   *metrics.Metrics
	now       func() time.Time

	// createGate is held exclusively from insert to publish of a new poll and
	// shared by increments. It is taken before any connection is checked out.
	createGate sync.RWMutex
	locks      [lockStripes]sync.Mutex
}

// NewPollService creates a PollService. A nil m records to an unexported registry.
func NewPollService(sqlDB *sql.DB, publisher Publisher, m *metrics.Metrics) *PollService {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &PollService{
		db:        sqlDB,
		queries:   db.New(sqlDB),
		publisher: publisher,
		metrics:   m,
		now:       time.Now,
	}
}

// CreatePoll inserts the poll and its options in one transaction and then
// publishes PollCreated.
func (s *PollService) CreatePoll(ctx context.Context, question string, options []string) (PollWithOptions, error) {
	if err := validatePoll(question, options); err != nil {
		s.record(opCreate, metrics.OutcomeInvalid)
		return PollWithOptions{}, err
	}

	s.createGate.Lock()
	created, err := s.insertPoll(ctx, question, options)
	if err != nil {
		s.createGate.Unlock()
		s.record(opCreate, metrics.OutcomeError)
		return PollWithOptions{}, err
	}

	s.publisher.Publish(broker.PollCreated{PollID: created.ID, Question: created.Question})
	s.createGate.Unlock()
	s.record(opCreate, metrics.OutcomeOK)

	slog.InfoContext(ctx, "poll created",
		slog.Int64("poll_id", created.ID),
		slog.Int("options", len(created.Options)),
	)
	return created, nil
}

func (s *PollService) insertPoll(ctx context.Context, question string, options []string) (PollWithOptions, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PollWithOptions{}, fmt.Errorf("begin create poll: %w", err)
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)

	poll, err := qtx.CreatePoll(ctx, db.CreatePollParams{
		Question:  question,
		CreatedAt: s.now().UTC().UnixMilli(),
	})
	if err != nil {
		return PollWithOptions{}, fmt.Errorf("insert poll: %w", err)
	}

	created := PollWithOptions{Poll: poll, Options: make([]db.PollOption, 0, len(options))}
	for _, text := range options {
		option, err := qtx.CreatePollOption(ctx, db.CreatePollOptionParams{
			PollID: poll.ID,
			Text:   text,
		})
		if err != nil {
			return PollWithOptions{}, fmt.Errorf("insert option for poll %d: %w", poll.ID, err)
		}
		created.Options = append(created.Options, option)
	}

	if err := tx.Commit(); err != nil {
		return PollWithOptions{}, fmt.Errorf("commit create poll: %w", err)
	}
	return created, nil
}

// CastVote adds one vote to optionID on pollID and returns the new count.
// An option that belongs to a different poll is reported as ErrOptionNotFound.
func (s *PollService) CastVote(ctx context.Context, pollID, optionID int64) (int64, error) {
	unlock := s.lockPoll(pollID)
	defer unlock()

	if _, err := s.queries.GetPoll(ctx, pollID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.record(opVote, metrics.OutcomeNotFound)
			return 0, ErrPollNotFound
		}
		s.record(opVote, metrics.OutcomeError)
		return 0, fmt.Errorf("get poll %d: %w", pollID, err)
	}

	votes, err := s.queries.IncrementOptionVotes(ctx, db.IncrementOptionVotesParams{
		ID:     optionID,
		PollID: pollID,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.record(opVote, metrics.OutcomeNotFound)
			return 0, ErrOptionNotFound
		}
		s.record(opVote, metrics.OutcomeError)
		return 0, fmt.Errorf("increment votes for option %d: %w", optionID, err)
	}

	s.publisher.Publish(broker.VoteCast{PollID: pollID, OptionID: optionID, NewVotes: votes})
	s.record(opVote, metrics.OutcomeOK)
	return votes, nil
}

// LikePoll adds one like to pollID and returns the new count.
func (s *PollService) LikePoll(ctx context.Context, pollID int64) (int64, error) {
	unlock := s.lockPoll(pollID)
	defer unlock()

	likes, err := s.queries.IncrementPollLikes(ctx, pollID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.record(opLike, metrics.OutcomeNotFound)
			return 0, ErrPollNotFound
		}
		s.record(opLike, metrics.OutcomeError)
		return 0, fmt.Errorf("increment likes for poll %d: %w", pollID, err)
	}

	s.publisher.Publish(broker.PollLiked{PollID: pollID, NewLikes: likes})
	s.record(opLike, metrics.OutcomeOK)
	return likes, nil
}

// ListPolls returns every poll in creation order with its options.
func (s *PollService) ListPolls(ctx context.Context) ([]PollWithOptions, error) {
	// Polls are read before options: a poll's options commit with it, so every
	// poll seen here has all of its options in the second read.
	polls, err := s.queries.ListPolls(ctx)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	options, err := s.queries.ListAllPollOptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list poll options: %w", err)
	}

	byPoll := make(map[int64][]db.PollOption, len(polls))
	for _, o := range options {
		byPoll[o.PollID] = append(byPoll[o.PollID], o)
	}

	result := make([]PollWithOptions, len(polls))
	for i, p := range polls {
		opts := byPoll[p.ID]
		if opts == nil {
			opts = []db.PollOption{}
		}
		result[i] = PollWithOptions{Poll: p, Options: opts}
	}
	return result, nil
}

// GetPoll returns one poll with its options.
func (s *PollService) GetPoll(ctx context.Context, pollID int64) (PollWithOptions, error) {
	poll, err := s.queries.GetPoll(ctx, pollID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PollWithOptions{}, ErrPollNotFound
		}
		return PollWithOptions{}, fmt.Errorf("get poll %d: %w", pollID, err)
	}

	options, err := s.queries.ListPollOptions(ctx, pollID)
	if err != nil {
		return PollWithOptions{}, fmt.Errorf("list options for poll %d: %w", pollID, err)
	}
	if options == nil {
		options = []db.PollOption{}
	}
	return PollWithOptions{Poll: poll, Options: options}, nil
}

func (s *PollService) lockPoll(pollID int64) func() {
	s.createGate.RLock()
	mu := &s.locks[uint64(pollID)%lockStripes]
	mu.Lock()
	return func() {
		mu.Unlock()
		s.createGate.RUnlock()
	}
}

func (s *PollService) record(operation, outcome string) {
	s.metrics.Mutations.WithLabelValues(operation, outcome).Inc()
}

func validatePoll(question string, options []string) error {
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("%w: question is required", ErrInvalidPoll)
	}
	if utf8.RuneCountInString(question) > MaxTextLength {
		return fmt.Errorf("%w: question must be at most %d characters", ErrInvalidPoll, MaxTextLength)
	}
	if len(options) > MaxOptions {
		return fmt.Errorf("%w: at most %d options are allowed", ErrInvalidPoll, MaxOptions)
	}
	for i, text := range options {
		if utf8.RuneCountInString(text) > MaxTextLength {
			return fmt.Errorf("%w: option %d must be at most %d characters", ErrInvalidPoll, i+1, MaxTextLength)
		}
	}
	return nil
}
