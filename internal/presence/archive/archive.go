// Package archive mirrors closed sessions into Elasticsearch for reporting
// tools that query outside the primary store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "presence-tracker/internal/common/errors"
	"presence-tracker/internal/common/logger"
	"presence-tracker/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

type Config struct {
	Index   string
	Timeout time.Duration
}

// ElasticArchiver indexes each closed session under its own id, so archiving
// the same session twice overwrites rather than duplicates.
type ElasticArchiver struct {
	client *elasticsearch.Client
	config Config
	logger logger.Logger
}

// sessionDocument is the indexed shape of a closed session.
type sessionDocument struct {
	SessionID        string           `json:"sessionId"`
	UserID           string           `json:"userId"`
	StartedAt        time.Time        `json:"startedAt"`
	EndedAt          *time.Time       `json:"endedAt,omitempty"`
	LastSeenAt       time.Time        `json:"lastSeenAt"`
	DurationMs       int64            `json:"durationMs"`
	EndReason        models.EndReason `json:"endReason"`
	UserAgent        string           `json:"userAgent,omitempty"`
	ConnectionMethod string           `json:"connectionMethod,omitempty"`
	ClientID         string           `json:"clientId,omitempty"`
	ArchivedAt       time.Time        `json:"archivedAt"`
}

func NewElasticArchiver(client *elasticsearch.Client, config Config, log logger.Logger) (*ElasticArchiver, error) {
	if client == nil {
		return nil, fmt.Errorf("elasticsearch client is required")
	}
	if config.Index == "" {
		return nil, fmt.Errorf("archive index is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 3 * time.Second
	}
	return &ElasticArchiver{
		client: client,
		config: config,
		logger: logger.ForComponent(log, "session-archive"),
	}, nil
}

// Archive indexes s. Open sessions are ignored.
func (a *ElasticArchiver) Archive(ctx context.Context, s *models.Session) error {
	if s == nil || s.IsOpen() {
		return nil
	}

	body, err := json.Marshal(sessionDocument{
		SessionID:        s.ID,
		UserID:           s.UserID,
		StartedAt:        s.StartedAt,
		EndedAt:          s.EndedAt,
		LastSeenAt:       s.LastSeenAt,
		DurationMs:       s.DurationMs,
		EndReason:        s.EndReason,
		UserAgent:        s.Metadata.UserAgent,
		ConnectionMethod: s.Metadata.ConnectionMethod,
		ClientID:         s.Metadata.ClientID,
		ArchivedAt:       time.Now().UTC(),
	})
	if err != nil {
		return apperrors.NewArchiveFailedError(s.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	req := esapi.IndexRequest{
		Index:      a.config.Index,
		DocumentID: s.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, a.client)
	if err != nil {
		return apperrors.NewArchiveFailedError(s.ID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return apperrors.NewArchiveFailedError(s.ID, fmt.Errorf("index failed: %s", res.String()))
	}

	a.logger.Debug("session archived", map[string]interface{}{
		"sessionId": s.ID,
		"index":     a.config.Index,
	})
	return nil
}
