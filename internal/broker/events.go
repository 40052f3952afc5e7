package broker

import "encoding/json"

// Wire message types sent on the live channel.
const (
	TypeNewPoll    = "new_poll"
	TypeVoteUpdate = "vote_update"
	TypeLikeUpdate = "like_update"
	TypePong       = "pong"
)

// Event is a message pushed to live subscribers. Domain events describe a
// committed state change; Pong is the heartbeat reply.
type Event interface {
	EventType() string
}

// PollCreated is published after a poll and its options are committed.
type PollCreated struct {
	PollID   int64  `json:"poll_id"`
	Question string `json:"-"`
}

func (PollCreated) EventType() string { return TypeNewPoll }

func (e PollCreated) MarshalJSON() ([]byte, error) {
	type fields PollCreated
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeNewPoll, fields(e)})
}

// VoteCast is published after an option's vote count is incremented.
type VoteCast struct {
	PollID   int64 `json:"poll_id"`
	OptionID int64 `json:"option_id"`
	NewVotes int64 `json:"new_votes"`
}

func (VoteCast) EventType() string { return TypeVoteUpdate }

func (e VoteCast) MarshalJSON() ([]byte, error) {
	type fields VoteCast
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeVoteUpdate, fields(e)})
}

// PollLiked is published after a poll's like count is incremented.
type PollLiked struct {
	PollID   int64 `json:"poll_id"`
	NewLikes int64 `json:"new_likes"`
}

func (PollLiked) EventType() string { return TypeLikeUpdate }

func (e PollLiked) MarshalJSON() ([]byte, error) {
	type fields PollLiked
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeLikeUpdate, fields(e)})
}

// Pong answers a client heartbeat. It never reaches the broker.
type Pong struct{}

func (Pong) EventType() string { return TypePong }

func (Pong) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"pong"}`), nil
}

// Encode renders an event in its wire format.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

var pongMessage, _ = Encode(Pong{})

// PongMessage returns the encoded heartbeat reply.
func PongMessage() []byte {
	return pongMessage
}
