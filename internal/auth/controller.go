package auth

import (
	pkgerrors "redlight/pkg/errors"
	"redlight/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Controller exposes the caller's identity and sign-out.
type Controller struct {
	revoked *RevocationList
}

func NewController(revoked *RevocationList) *Controller {
	return &Controller{revoked: revoked}
}

// Me returns the authenticated participant.
func (h *Controller) Me(c *gin.Context) {
	p, ok := ParticipantFrom(c)
	if !ok {
		response.ErrorWithCode(c, pkgerrors.Unauthorized, "")
		return
	}
	response.Success(c, MeResponse{ParticipantID: p.ID, TeamID: p.TeamID, Role: p.Role})
}

// Logout revokes the presented token.
func (h *Controller) Logout(c *gin.Context) {
	p, ok := ParticipantFrom(c)
	if !ok {
		response.ErrorWithCode(c, pkgerrors.Unauthorized, "")
		return
	}
	if h.revoked == nil {
		response.ErrorWithCode(c, pkgerrors.ServiceUnavailable, "sign-out unavailable")
		return
	}
	if err := h.revoked.Revoke(c.Request.Context(), p.TokenHash(), p.ExpiresAt); err != nil {
		response.Error(c, pkgerrors.Wrap(err, pkgerrors.CacheError))
		return
	}
	response.SuccessWithMessage(c, "Logout success", nil)
}

// MeResponse describes the authenticated participant.
type MeResponse struct {
	ParticipantID string `json:"participant_id"`
	TeamID        string `json:"team_id"`
	Role          string `json:"role"`
}
