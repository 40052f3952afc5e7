package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quickpoll/backend/internal/db"
	"github.com/quickpoll/backend/internal/models"
	"github.com/quickpoll/backend/internal/services"
)

const (
	// createdAtLayout renders poll timestamps as ISO-8601 with millisecond precision.
	createdAtLayout = "2006-01-02T15:04:05.000Z07:00"

	maxBodyBytes = 1 << 20
)

// PollHandler serves the poll REST endpoints.
type PollHandler struct {
	polls *services.PollService
}

// NewPollHandler creates a PollHandler backed by the given service.
func NewPollHandler(polls *services.PollService) *PollHandler {
	return &PollHandler{polls: polls}
}

// Create stores a new poll with its options and announces it to live subscribers.
func (h *PollHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePollRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// An empty list is a valid poll; a missing or null one is not.
	if req.Options == nil {
		writeError(w, http.StatusUnprocessableEntity, "options is required")
		return
	}

	poll, err := h.polls.CreatePoll(r.Context(), req.Question, req.Options)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to create poll")
		return
	}

	writeJSON(w, http.StatusOK, models.CreatePollResponse{
		ID:       poll.ID,
		Question: poll.Question,
	})
}

// List returns every poll with its options, oldest first.
func (h *PollHandler) List(w http.ResponseWriter, r *http.Request) {
	polls, err := h.polls.ListPolls(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "failed to list polls")
		return
	}

	resp := make([]models.PollResponse, len(polls))
	for i, p := range polls {
		resp[i] = toPollResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get returns a single poll.
func (h *PollHandler) Get(w http.ResponseWriter, r *http.Request) {
	pollID, ok := pollIDParam(w, r)
	if !ok {
		return
	}

	poll, err := h.polls.GetPoll(r.Context(), pollID)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to get poll")
		return
	}

	writeJSON(w, http.StatusOK, toPollResponse(poll))
}

// Vote adds one vote to the requested option.
func (h *PollHandler) Vote(w http.ResponseWriter, r *http.Request) {
	pollID, ok := pollIDParam(w, r)
	if !ok {
		return
	}

	var req models.VoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OptionID == nil {
		writeError(w, http.StatusUnprocessableEntity, "option_id is required")
		return
	}

	votes, err := h.polls.CastVote(r.Context(), pollID, *req.OptionID)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to cast vote")
		return
	}

	writeJSON(w, http.StatusOK, models.VoteResponse{Success: true, Votes: votes})
}

// Like adds one like to the poll.
func (h *PollHandler) Like(w http.ResponseWriter, r *http.Request) {
	pollID, ok := pollIDParam(w, r)
	if !ok {
		return
	}

	likes, err := h.polls.LikePoll(r.Context(), pollID)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to like poll")
		return
	}

	writeJSON(w, http.StatusOK, models.LikeResponse{Success: true, Likes: likes})
}

func (h *PollHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, message string) {
	switch {
	case errors.Is(err, services.ErrPollNotFound):
		writeError(w, http.StatusNotFound, "Poll not found")
	case errors.Is(err, services.ErrOptionNotFound):
		writeError(w, http.StatusNotFound, "Option not found")
	case errors.Is(err, services.ErrInvalidPoll):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, message, err)
	}
}

func pollIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	pollID, err := strconv.ParseInt(chi.URLParam(r, "pollID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid poll id")
		return 0, false
	}
	return pollID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func toPollResponse(p services.PollWithOptions) models.PollResponse {
	return models.PollResponse{
		ID:        p.ID,
		Question:  p.Question,
		Likes:     p.Likes,
		CreatedAt: p.CreatedAtTime().Format(createdAtLayout),
		Options:   toOptionResponses(p.Options),
	}
}

func toOptionResponses(options []db.PollOption) []models.OptionResponse {
	resp := make([]models.OptionResponse, len(options))
	for i, o := range options {
		resp[i] = models.OptionResponse{ID: o.ID, Text: o.Text, Votes: o.Votes}
	}
	return resp
}
