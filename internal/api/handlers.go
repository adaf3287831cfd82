// internal/api/handlers.go
package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "presence-tracker/internal/common/errors"
	"presence-tracker/internal/models"
	"presence-tracker/internal/presence/engine"

	"github.com/gin-gonic/gin"
)

type heartbeatRequest struct {
	Kind             string       `json:"kind"`
	ObservedAt       observedTime `json:"observedAt"`
	ConnectionMethod string       `json:"connectionMethod,omitempty"`
	UserAgent        string       `json:"userAgent,omitempty"`
}

// observedTime accepts epoch milliseconds or an RFC3339 string. Millis of
// zero or less leave it unset, so the server clock is used.
type observedTime struct {
	time.Time
}

func (o *observedTime) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	switch {
	case raw == "null":
		return nil
	case strings.HasPrefix(raw, `"`):
		return o.Time.UnmarshalJSON(b)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("observedAt must be epoch milliseconds or RFC3339: %w", err)
	}
	if ms > 0 {
		o.Time = time.UnixMilli(ms).UTC()
	}
	return nil
}

// heartbeat handles POST /api/v1/presence/heartbeat
func (h *handler) heartbeat(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		h.fail(c, apperrors.NewInvalidHeartbeatError("unreadable body"))
		return
	}

	result := h.validator.ValidateBytes(raw)
	if !result.Valid {
		h.fail(c, apperrors.NewInvalidHeartbeatError(strings.Join(result.GetErrorMessages(), "; ")))
		return
	}

	var req heartbeatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.fail(c, apperrors.NewInvalidHeartbeatError(err.Error()))
		return
	}

	in := engine.HeartbeatInput{
		UserID:     callerID(c),
		Kind:       req.Kind,
		ObservedAt: req.ObservedAt.Time,
		Metadata: models.ClientMetadata{
			ConnectionMethod: req.ConnectionMethod,
			UserAgent:        req.UserAgent,
			ClientID:         clientFingerprint(c.ClientIP()),
		},
	}
	if in.Metadata.UserAgent == "" {
		in.Metadata.UserAgent = c.Request.UserAgent()
	}

	view, err := h.engine.ProcessHeartbeat(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// status handles GET /api/v1/presence/status/:userId
func (h *handler) status(c *gin.Context) {
	view, err := h.query.GetStatus(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// online handles GET /api/v1/presence/online
func (h *handler) online(c *gin.Context) {
	views, err := h.query.ListOnline(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": views, "count": len(views)})
}

// sessions handles GET /api/v1/presence/sessions/:userId
func (h *handler) sessions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(c, apperrors.NewInvalidQueryError("limit must be an integer"))
			return
		}
		limit = n
	}

	page, err := h.query.ListSessions(c.Request.Context(), c.Param("userId"), limit, c.Query("cursor"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// report handles GET /api/v1/presence/report
func (h *handler) report(c *gin.Context) {
	from, err := parseTime(c.Query("from"), "from")
	if err != nil {
		h.fail(c, err)
		return
	}
	to, err := parseTime(c.Query("to"), "to")
	if err != nil {
		h.fail(c, err)
		return
	}

	var userIDs []string
	for _, id := range strings.Split(c.Query("userIds"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			userIDs = append(userIDs, id)
		}
	}

	report, err := h.query.AggregateOnlineTime(c.Request.Context(), userIDs, from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func parseTime(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, apperrors.NewInvalidQueryError(name + " is required")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperrors.NewInvalidQueryError(name + " must be RFC3339")
	}
	return t, nil
}

// clientFingerprint hashes the client address so sessions can be grouped by
// origin without storing the address itself.
func clientFingerprint(ip string) string {
	if ip == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:8])
}
