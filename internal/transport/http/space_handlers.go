package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/spacerelay/internal/core"
	"github.com/vovakirdan/spacerelay/internal/proto"
)

// SpaceHandlers exposes a read-only dump of the spaces held by this relay.
type SpaceHandlers struct {
	hub *core.Hub
	log *zerolog.Logger
}

// NewSpaceHandlers creates a new space handlers instance.
func NewSpaceHandlers(hub *core.Hub, logger *zerolog.Logger) *SpaceHandlers {
	return &SpaceHandlers{hub: hub, log: logger}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SpaceResponse summarizes one space.
type SpaceResponse struct {
	Name     string `json:"name"`
	BackID   int    `json:"back_id"`
	Users    int    `json:"users"`
	Watchers int    `json:"watchers"`
}

// SpaceDetailResponse is a space summary with its directory.
type SpaceDetailResponse struct {
	SpaceResponse
	Directory []*proto.User `json:"directory"`
}

func spaceResponse(info core.SpaceInfo) SpaceResponse {
	return SpaceResponse{Name: info.Name, BackID: info.BackID, Users: info.Users, Watchers: info.Watchers}
}

// ListSpaces handles listing live spaces.
// GET /api/spaces
func (h *SpaceHandlers) ListSpaces(c *gin.Context) {
	infos, err := h.hub.Spaces(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list spaces")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "hub unavailable"})
		return
	}

	response := make([]SpaceResponse, 0, len(infos))
	for _, info := range infos {
		response = append(response, spaceResponse(info))
	}
	c.JSON(http.StatusOK, gin.H{"spaces": response})
}

// GetSpace handles dumping one space.
// GET /api/spaces/:name
func (h *SpaceHandlers) GetSpace(c *gin.Context) {
	name := c.Param("name")
	info, users, err := h.hub.SpaceUsers(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, core.ErrSpaceNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "space not found"})
			return
		}
		h.log.Error().Err(err).Str("space", name).Msg("failed to dump space")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "hub unavailable"})
		return
	}

	directory := make([]*proto.User, 0, len(users))
	for _, u := range users {
		directory = append(directory, proto.UserFromCore(u))
	}
	c.JSON(http.StatusOK, SpaceDetailResponse{SpaceResponse: spaceResponse(info), Directory: directory})
}
