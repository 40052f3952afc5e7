package models

// Root and health
type StatusResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Subscribers int    `json:"subscribers"`
}

// Polls
type CreatePollRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type CreatePollResponse struct {
	ID       int64  `json:"id"`
	Question string `json:"question"`
}

type PollResponse struct {
	ID        int64            `json:"id"`
	Question  string           `json:"question"`
	Likes     int64            `json:"likes"`
	CreatedAt string           `json:"created_at"` // ISO-8601, UTC
	Options   []OptionResponse `json:"options"`
}

type OptionResponse struct {
	ID    int64  `json:"id"`
	Text  string `json:"text"`
	Votes int64  `json:"votes"`
}

// Votes and likes
type VoteRequest struct {
	OptionID *int64 `json:"option_id"` // nil when missing
}

type VoteResponse struct {
	Success bool  `json:"success"`
	Votes   int64 `json:"votes"`
}

type LikeResponse struct {
	Success bool  `json:"success"`
	Likes   int64 `json:"likes"`
}

// Error response
type ErrorResponse struct {
	Detail string `json:"detail"`
}
