package auth

import (
	"context"
	"strings"

	pkgerrors "redlight/pkg/errors"
	"redlight/pkg/utils/contextkey"
	"redlight/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const participantKey = "participant"

// Middleware enforces a valid access token and, when roles are given, one of them.
func Middleware(svc *Service, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if svc == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "auth service unavailable")
			return
		}

		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			// Browsers cannot set headers on websocket upgrades.
			token = c.Query("access_token")
		}
		p, err := svc.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		if len(roles) > 0 && !hasRole(p.Role, roles) {
			response.AbortWithErrorCode(c, pkgerrors.Forbidden, "insufficient role")
			return
		}

		c.Set(participantKey, p)
		ctx := context.WithValue(c.Request.Context(), contextkey.ParticipantID, p.ID)
		ctx = context.WithValue(ctx, contextkey.TeamID, p.TeamID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ParticipantFrom returns the participant set by Middleware.
func ParticipantFrom(c *gin.Context) (Participant, bool) {
	v, ok := c.Get(participantKey)
	if !ok {
		return Participant{}, false
	}
	p, ok := v.(Participant)
	return p, ok
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hasRole(role string, allowed []string) bool {
	for _, item := range allowed {
		if strings.EqualFold(role, item) {
			return true
		}
	}
	return false
}
