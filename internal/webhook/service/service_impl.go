package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tally/internal/config"
	webhookdomain "github.com/smallbiznis/tally/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Config config.Config
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	endpoint string
	client   *http.Client
}

func New(p Params) webhookdomain.Notifier {
	timeout := time.Duration(p.Config.WebhookTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("webhook.service"),
		genID:    p.GenID,
		endpoint: p.Config.WebhookEndpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Notify persists an outbox row and dispatches it asynchronously. Errors are
// logged and swallowed: a webhook must never fail the primary transaction.
func (s *Service) Notify(ctx context.Context, eventType string, payload map[string]any) {
	_ = ctx
	if eventType == "" {
		return
	}

	message := &webhookdomain.WebhookMessage{
		ID:        s.genID.Generate(),
		EventType: eventType,
		Payload:   datatypes.JSONMap(payload),
		CreatedAt: time.Now().UTC(),
	}
	if orgID, ok := payload["org_id"].(string); ok {
		if parsed, err := snowflake.ParseString(orgID); err == nil {
			message.OrgID = parsed
		}
	}
	if key, ok := payload["dedupe_key"].(string); ok && key != "" {
		message.DedupeKey = &key
	}

	go s.persistAndDispatch(message)
}

func (s *Service) persistAndDispatch(message *webhookdomain.WebhookMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db := s.db.WithContext(ctx)
	if message.DedupeKey != nil {
		db = db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}, {Name: "dedupe_key"}},
			DoNothing: true,
		})
	}
	result := db.Create(message)
	if result.Error != nil {
		s.log.Warn("webhook outbox insert failed",
			zap.String("event_type", message.EventType),
			zap.Error(result.Error))
		return
	}
	if result.RowsAffected == 0 {
		// Already published for this dedupe key.
		return
	}

	if s.endpoint == "" {
		return
	}
	if err := s.dispatch(ctx, message); err != nil {
		s.log.Warn("webhook dispatch failed",
			zap.String("event_type", message.EventType),
			zap.Error(err))
		return
	}

	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&webhookdomain.WebhookMessage{}).
		Where("id = ?", message.ID).
		Updates(map[string]any{"published": true, "published_at": now}).Error; err != nil {
		s.log.Warn("webhook publish mark failed", zap.Error(err))
	}
}

func (s *Service) dispatch(ctx context.Context, message *webhookdomain.WebhookMessage) error {
	body, err := json.Marshal(map[string]any{
		"webhook_type": message.EventType,
		"object_type":  message.EventType,
		"payload":      map[string]any(message.Payload),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
