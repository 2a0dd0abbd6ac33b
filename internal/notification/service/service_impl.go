package service

import (
	"context"
	"errors"
	"time"

	"github.com/aptora/aptora/internal/clock"
	notificationdomain "github.com/aptora/aptora/internal/notification/domain"
	obsmetrics "github.com/aptora/aptora/internal/observability/metrics"
	"github.com/aptora/aptora/internal/providers/email"
	residentdomain "github.com/aptora/aptora/internal/resident/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Residents residentdomain.Repository
	Email     email.Provider
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	residents residentdomain.Repository
	email     email.Provider
}

func NewService(p Params) notificationdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("notification.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		residents: p.Residents,
		email:     p.Email,
	}
}

func (s *Service) Send(ctx context.Context, input notificationdomain.SendInput) (*notificationdomain.Notification, error) {
	if err := validateSend(&input); err != nil {
		return nil, err
	}

	audience, err := s.audienceFromInput(ctx, input)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	notification := &notificationdomain.Notification{
		ID:            s.genID.Generate(),
		Title:         input.Title,
		Body:          input.Body,
		Category:      input.Category,
		TargetMode:    input.TargetMode,
		TargetRole:    input.Role,
		EmailTemplate: input.EmailTemplate,
		EmailData:     input.EmailData,
		CreatedBy:     input.CreatedBy,
		ScheduledAt:   input.ScheduledAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// A future ScheduledAt stores the notification unsent; the dispatch
	// trigger claims it when the time comes. Explicit recipient lists are
	// pinned now so the audience is the one the sender named, not whoever
	// matches at dispatch time.
	scheduled := input.ScheduledAt != nil && input.ScheduledAt.After(now)
	if !scheduled {
		notification.SentAt = &now
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(notification).Error; err != nil {
			return err
		}
		if scheduled && input.TargetMode != notificationdomain.TargetSpecific {
			return nil
		}
		return s.upsertRecipients(tx, notification.ID, audience, now)
	})
	if err != nil {
		return nil, err
	}

	if scheduled {
		s.log.Info("notification.scheduled",
			zap.String("notification_id", notification.ID.String()),
			zap.Time("scheduled_at", *input.ScheduledAt),
		)
		return notification, nil
	}

	s.log.Info("notification.sent",
		zap.String("notification_id", notification.ID.String()),
		zap.String("target_mode", string(notification.TargetMode)),
		zap.Int("recipients", len(audience)),
	)
	s.deliverEmails(ctx, notification, audience)
	return notification, nil
}

// Dispatch fans out an already-claimed notification. The caller marked it
// sent before calling; repeating this after a crash only re-attempts
// emails, recipient rows are conflict-ignored.
func (s *Service) Dispatch(ctx context.Context, notificationID int64) error {
	var notification notificationdomain.Notification
	err := s.db.WithContext(ctx).First(&notification, "id = ?", notificationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notificationdomain.ErrNotificationNotFound
		}
		return err
	}

	audience, err := s.audienceFromStored(ctx, &notification)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	if err := s.upsertRecipients(s.db.WithContext(ctx), notification.ID, audience, now); err != nil {
		return err
	}

	s.log.Info("notification.dispatched",
		zap.String("notification_id", notification.ID.String()),
		zap.Int("recipients", len(audience)),
	)
	s.deliverEmails(ctx, &notification, audience)
	return nil
}

func (s *Service) audienceFromInput(ctx context.Context, input notificationdomain.SendInput) ([]residentdomain.Resident, error) {
	switch input.TargetMode {
	case notificationdomain.TargetAllResidents:
		return s.residents.ActiveResidents(ctx)
	case notificationdomain.TargetRoleGroup:
		return s.residents.ByRole(ctx, input.Role)
	case notificationdomain.TargetSpecific:
		return s.residents.ByIDs(ctx, input.ResidentIDs)
	default:
		return nil, notificationdomain.ErrInvalidTargetMode
	}
}

// audienceFromStored resolves the audience at dispatch time. Specific
// notifications read their pinned recipient rows; the group modes resolve
// against the current resident table.
func (s *Service) audienceFromStored(ctx context.Context, n *notificationdomain.Notification) ([]residentdomain.Resident, error) {
	if n.TargetMode != notificationdomain.TargetSpecific {
		return s.audienceFromInput(ctx, notificationdomain.SendInput{
			TargetMode: n.TargetMode,
			Role:       n.TargetRole,
		})
	}

	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&notificationdomain.NotificationRecipient{}).
		Where("notification_id = ?", n.ID).
		Pluck("resident_id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.residents.ByIDs(ctx, ids)
}

func (s *Service) upsertRecipients(tx *gorm.DB, notificationID snowflake.ID, audience []residentdomain.Resident, now time.Time) error {
	if len(audience) == 0 {
		return nil
	}
	rows := make([]notificationdomain.NotificationRecipient, 0, len(audience))
	for _, resident := range audience {
		rows = append(rows, notificationdomain.NotificationRecipient{
			ID:             s.genID.Generate(),
			NotificationID: notificationID,
			ResidentID:     resident.ID,
			CreatedAt:      now,
		})
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// deliverEmails sends one email copy per recipient. Failures are logged and
// counted, never propagated; the in-app notification already exists.
func (s *Service) deliverEmails(ctx context.Context, n *notificationdomain.Notification, audience []residentdomain.Resident) {
	templateKind := n.EmailTemplate
	if templateKind == "" {
		templateKind = email.TemplateGeneral
	}
	for _, resident := range audience {
		if resident.Email == "" {
			continue
		}
		data := map[string]interface{}{
			"title":   n.Title,
			"body":    n.Body,
			"subject": n.Title,
		}
		for key, value := range n.EmailData {
			data[key] = value
		}
		if err := s.email.SendTemplate(ctx, []string{resident.Email}, templateKind, data); err != nil {
			obsmetrics.Scheduler().IncEmailFailure(templateKind)
			s.log.Warn("notification.email_failed",
				zap.String("notification_id", n.ID.String()),
				zap.String("resident_id", resident.ID.String()),
				zap.Error(err),
			)
		}
	}
}

func validateSend(input *notificationdomain.SendInput) error {
	if input.Title == "" {
		return notificationdomain.ErrMissingTitle
	}
	if input.Category == "" {
		input.Category = notificationdomain.CategoryGeneral
	}
	switch input.Category {
	case notificationdomain.CategoryGeneral, notificationdomain.CategoryBilling, notificationdomain.CategoryUrgent:
	default:
		return notificationdomain.ErrInvalidCategory
	}
	switch input.TargetMode {
	case notificationdomain.TargetAllResidents:
	case notificationdomain.TargetRoleGroup:
		if input.Role == "" {
			return notificationdomain.ErrMissingRole
		}
	case notificationdomain.TargetSpecific:
		if len(input.ResidentIDs) == 0 {
			return notificationdomain.ErrEmptyRecipientList
		}
	default:
		return notificationdomain.ErrInvalidTargetMode
	}
	return nil
}
