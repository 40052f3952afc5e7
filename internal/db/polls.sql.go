package db

import (
	"context"
)

const createPoll = `
INSERT INTO polls (question, created_at)
VALUES (?, ?)
RETURNING id, question, created_at, likes
`

type CreatePollParams struct {
	Question  string
	CreatedAt int64
}

func (q *Queries) CreatePoll(ctx context.Context, arg CreatePollParams) (Poll, error) {
	row := q.db.QueryRowContext(ctx, createPoll, arg.Question, arg.CreatedAt)
	var i Poll
	err := row.Scan(&i.ID, &i.Question, &i.CreatedAt, &i.Likes)
	return i, err
}

const createPollOption = `
INSERT INTO poll_options (poll_id, text)
VALUES (?, ?)
RETURNING id, poll_id, text, votes
`

type CreatePollOptionParams struct {
	PollID int64
	Text   string
}

func (q *Queries) CreatePollOption(ctx context.Context, arg CreatePollOptionParams) (PollOption, error) {
	row := q.db.QueryRowContext(ctx, createPollOption, arg.PollID, arg.Text)
	var i PollOption
	err := row.Scan(&i.ID, &i.PollID, &i.Text, &i.Votes)
	return i, err
}

const getPoll = `
SELECT id, question, created_at, likes FROM polls
WHERE id = ?
`

func (q *Queries) GetPoll(ctx context.Context, id int64) (Poll, error) {
	row := q.db.QueryRowContext(ctx, getPoll, id)
	var i Poll
	err := row.Scan(&i.ID, &i.Question, &i.CreatedAt, &i.Likes)
	return i, err
}

const listPolls = `
SELECT id, question, created_at, likes FROM polls
ORDER BY id
`

func (q *Queries) ListPolls(ctx context.Context) ([]Poll, error) {
	rows, err := q.db.QueryContext(ctx, listPolls)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Poll
	for rows.Next() {
		var i Poll
		if err := rows.Scan(&i.ID, &i.Question, &i.CreatedAt, &i.Likes); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listPollOptions = `
SELECT id, poll_id, text, votes FROM poll_options
WHERE poll_id = ?
ORDER BY id
`

func (q *Queries) ListPollOptions(ctx context.Context, pollID int64) ([]PollOption, error) {
	return q.queryOptions(ctx, listPollOptions, pollID)
}

const listAllPollOptions = `
SELECT id, poll_id, text, votes FROM poll_options
ORDER BY poll_id, id
`

func (q *Queries) ListAllPollOptions(ctx context.Context) ([]PollOption, error) {
	return q.queryOptions(ctx, listAllPollOptions)
}

func (q *Queries) queryOptions(ctx context.Context, query string, args ...interface{}) ([]PollOption, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PollOption
	for rows.Next() {
		var i PollOption
		if err := rows.Scan(&i.ID, &i.PollID, &i.Text, &i.Votes); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const incrementOptionVotes = `
UPDATE poll_options SET votes = votes + 1
WHERE id = ? AND poll_id = ?
RETURNING votes
`

type IncrementOptionVotesParams struct {
	ID     int64
	PollID int64
}

// IncrementOptionVotes adds one vote in a single statement and returns the new
// count. sql.ErrNoRows means the option does not exist on that poll.
func (q *Queries) IncrementOptionVotes(ctx context.Context, arg IncrementOptionVotesParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, incrementOptionVotes, arg.ID, arg.PollID)
	var votes int64
	err := row.Scan(&votes)
	return votes, err
}

const incrementPollLikes = `
UPDATE polls SET likes = likes + 1
WHERE id = ?
RETURNING likes
`

func (q *Queries) IncrementPollLikes(ctx context.Context, id int64) (int64, error) {
	row := q.db.QueryRowContext(ctx, incrementPollLikes, id)
	var likes int64
	err := row.Scan(&likes)
	return likes, err
}
