package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/spacerelay/internal/store"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// JournalReader exposes the stored side of a journal backend.
type JournalReader interface {
	StoredSpaces(ctx context.Context) ([]string, error)
	History(ctx context.Context, space string, afterID int64, limit int) ([]*store.JournalEntry, error)
}

// JournalHandlers serves the persisted presence journal.
type JournalHandlers struct {
	journal JournalReader
	log     *zerolog.Logger
}

// NewJournalHandlers creates a new journal handlers instance.
func NewJournalHandlers(journal JournalReader, logger *zerolog.Logger) *JournalHandlers {
	return &JournalHandlers{journal: journal, log: logger}
}

// JournalEntryResponse is one journaled mutation.
type JournalEntryResponse struct {
	ID        int64           `json:"id"`
	Space     string          `json:"space"`
	Kind      string          `json:"kind"`
	UserUUID  string          `json:"user_uuid"`
	Origin    string          `json:"origin"`
	Message   json.RawMessage `json:"message"`
	CreatedAt time.Time       `json:"created_at"`
}

// ListStoredSpaces handles listing spaces with stored users.
// GET /api/journal/spaces
func (h *JournalHandlers) ListStoredSpaces(c *gin.Context) {
	spaces, err := h.journal.StoredSpaces(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list stored spaces")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}
	if spaces == nil {
		spaces = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"spaces": spaces})
}

// GetHistory handles paging through the journal of one space.
// GET /api/journal/spaces/:name?after=<id>&limit=<n>
func (h *JournalHandlers) GetHistory(c *gin.Context) {
	name := c.Param("name")

	afterID, err := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil || afterID < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid after"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
		return
	}
	limit = min(limit, maxHistoryLimit)

	entries, err := h.journal.History(c.Request.Context(), name, afterID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("space", name).Msg("failed to read journal")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	response := make([]JournalEntryResponse, 0, len(entries))
	for _, e := range entries {
		response = append(response, JournalEntryResponse{
			ID:        e.ID,
			Space:     e.Space,
			Kind:      e.Kind,
			UserUUID:  e.UserUUID,
			Origin:    e.Origin,
			Message:   json.RawMessage(e.Payload),
			CreatedAt: e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"space": name, "entries": response})
}
