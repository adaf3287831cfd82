package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"presence-tracker/internal/models"
)

// EncodeCursor renders the position after s as "<startedAtMillis>_<sessionID>".
func EncodeCursor(s *models.Session) string {
	return fmt.Sprintf("%d_%s", s.StartedAt.UnixMilli(), s.ID)
}

// DecodeCursor parses a cursor produced by EncodeCursor. An empty string means the first page.
func DecodeCursor(raw string) (*models.SessionCursor, error) {
	if raw == "" {
		return nil, nil
	}
	millis, id, ok := strings.Cut(raw, "_")
	if !ok || id == "" {
		return nil, fmt.Errorf("cursor %q is not <millis>_<id>", raw)
	}
	ms, err := strconv.ParseInt(millis, 10, 64)
	if err != nil || ms < 0 {
		return nil, fmt.Errorf("cursor %q has a bad timestamp", raw)
	}
	return &models.SessionCursor{
		StartedAt: time.UnixMilli(ms).UTC(),
		SessionID: id,
	}, nil
}
