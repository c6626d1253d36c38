// Package service implements the caller-facing bot operations: every call is
// scoped to a tenant, validated, and delegated to the session manager or the
// store.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/edgard/hyperbot/internal/database"
	apperrors "github.com/edgard/hyperbot/internal/errors"
	"github.com/edgard/hyperbot/internal/session"
	"github.com/edgard/hyperbot/internal/transport"
)

// Sessions is the part of the session manager the service drives.
type Sessions interface {
	CreateBot(ctx context.Context, tenantID, name string, config database.JSONMap, phoneNumber string) (*database.BotRecord, error)
	CreateBotInstance(ctx context.Context, botID, phoneNumber string) (transport.Conn, error)
	DisconnectBot(ctx context.Context, botID string) error
	GetBotStatus(ctx context.Context, botID string) (*session.StatusView, error)
}

// CreateBotRequest is the input of CreateBot.
type CreateBotRequest struct {
	Name        string           `json:"name"         validate:"required,max=100"`
	PhoneNumber string           `json:"phone_number" validate:"omitempty,number,min=7,max=15"`
	Config      database.JSONMap `json:"config"`
}

// ReconnectRequest is the input of Reconnect.
type ReconnectRequest struct {
	PhoneNumber string `json:"phone_number" validate:"omitempty,number,min=7,max=15"`
}

// CreateGroupRequest is the input of AddGroup.
type CreateGroupRequest struct {
	GroupID     string   `json:"group_id"     validate:"required,endswith=@g.us"`
	Name        string   `json:"name"         validate:"required,max=200"`
	IsProtected bool     `json:"is_protected"`
	Whitelist   []string `json:"whitelist"    validate:"omitempty,dive,required"`
}

// UpdateGroupRequest is the input of UpdateGroup. Nil fields are left unchanged.
type UpdateGroupRequest struct {
	Name        *string   `json:"name"         validate:"omitempty,min=1,max=200"`
	IsProtected *bool     `json:"is_protected"`
	Whitelist   *[]string `json:"whitelist"    validate:"omitempty,dive,required"`
}

// BotService exposes bot operations to tenants.
type BotService struct {
	sessions Sessions
	store    database.Store
	validate *validator.Validate
	logger   *slog.Logger
}

// NewBotService creates a BotService.
func NewBotService(sessions Sessions, store database.Store, logger *slog.Logger) *BotService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &BotService{
		sessions: sessions,
		store:    store,
		validate: validator.New(),
		logger:   logger.With("component", "bot_service"),
	}
}

func (s *BotService) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return apperrors.NewValidationError("invalid request", err)
	}
	return nil
}

// owned returns the bot if it belongs to tenantID.
func (s *BotService) owned(ctx context.Context, tenantID, botID string) (*database.BotRecord, error) {
	bot, err := s.store.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	if bot == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("bot %s not found", botID))
	}
	if bot.TenantID != tenantID {
		s.logger.WarnContext(ctx, "Cross-tenant bot access denied", "bot_id", botID, "tenant_id", tenantID)
		return nil, apperrors.NewPermissionDeniedError(fmt.Sprintf("bot %s does not belong to this tenant", botID))
	}
	return bot, nil
}

// CreateBot registers a new bot for tenantID and starts its first connection.
func (s *BotService) CreateBot(ctx context.Context, tenantID string, req CreateBotRequest) (*database.BotRecord, error) {
	if tenantID == "" {
		return nil, apperrors.NewValidationError("tenant id is required", nil)
	}
	req.PhoneNumber = strings.TrimPrefix(strings.TrimSpace(req.PhoneNumber), "+")
	if err := s.check(req); err != nil {
		return nil, err
	}
	return s.sessions.CreateBot(ctx, tenantID, strings.TrimSpace(req.Name), req.Config, req.PhoneNumber)
}

// ListBots returns the bots of tenantID with their groups.
func (s *BotService) ListBots(ctx context.Context, tenantID string) ([]*database.BotWithGroups, error) {
	bots, err := s.store.ListBotsByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if bots == nil {
		bots = []*database.BotWithGroups{}
	}
	return bots, nil
}

// GetBot returns the connection state of a bot.
func (s *BotService) GetBot(ctx context.Context, tenantID, botID string) (*session.StatusView, error) {
	if _, err := s.owned(ctx, tenantID, botID); err != nil {
		return nil, err
	}
	view, err := s.sessions.GetBotStatus(ctx, botID)
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("bot %s not found", botID))
	}
	return view, nil
}

// GetQRCode returns the pending QR code of a bot awaiting a scan.
func (s *BotService) GetQRCode(ctx context.Context, tenantID, botID string) (string, error) {
	bot, err := s.owned(ctx, tenantID, botID)
	if err != nil {
		return "", err
	}
	if bot.Status != database.StatusAwaitingQRScan || !bot.QRCode.Valid {
		return "", apperrors.NewConflictError(fmt.Sprintf("bot %s is not awaiting a QR scan (status %s)", botID, bot.Status))
	}
	return bot.QRCode.String, nil
}

// Reconnect drops the credentials of a bot that is not connected and starts
// a fresh pairing.
func (s *BotService) Reconnect(ctx context.Context, tenantID, botID string, req ReconnectRequest) (*session.StatusView, error) {
	bot, err := s.owned(ctx, tenantID, botID)
	if err != nil {
		return nil, err
	}
	req.PhoneNumber = strings.TrimPrefix(strings.TrimSpace(req.PhoneNumber), "+")
	if err := s.check(req); err != nil {
		return nil, err
	}
	if bot.Status == database.StatusConnected {
		return nil, apperrors.NewConflictError(fmt.Sprintf("bot %s is already connected", botID))
	}

	if err := s.sessions.DisconnectBot(ctx, botID); err != nil {
		return nil, err
	}
	if _, err := s.sessions.CreateBotInstance(ctx, botID, req.PhoneNumber); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Bot reconnect requested", "bot_id", botID, "tenant_id", tenantID)
	return s.sessions.GetBotStatus(ctx, botID)
}

// DeleteBot logs a bot out and removes it with all its data.
func (s *BotService) DeleteBot(ctx context.Context, tenantID, botID string) error {
	if _, err := s.owned(ctx, tenantID, botID); err != nil {
		return err
	}
	if err := s.sessions.DisconnectBot(ctx, botID); err != nil {
		return err
	}
	if err := s.store.DeleteBot(ctx, botID); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Bot deleted", "bot_id", botID, "tenant_id", tenantID)
	return nil
}

// ListGroups returns the groups managed by a bot.
func (s *BotService) ListGroups(ctx context.Context, tenantID, botID string) ([]database.GroupRecord, error) {
	if _, err := s.owned(ctx, tenantID, botID); err != nil {
		return nil, err
	}
	groups, err := s.store.ListGroups(ctx, botID)
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = []database.GroupRecord{}
	}
	return groups, nil
}

// AddGroup records a group for a bot. It fails with a conflict if the bot
// already manages the group.
func (s *BotService) AddGroup(ctx context.Context, tenantID, botID string, req CreateGroupRequest) (*database.GroupRecord, error) {
	if _, err := s.owned(ctx, tenantID, botID); err != nil {
		return nil, err
	}
	if err := s.check(req); err != nil {
		return nil, err
	}

	group := &database.GroupRecord{
		BotID:       botID,
		GroupID:     req.GroupID,
		Name:        strings.TrimSpace(req.Name),
		IsProtected: req.IsProtected,
		Whitelist:   req.Whitelist,
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

// UpdateGroup changes the name, protection or whitelist of a group.
func (s *BotService) UpdateGroup(ctx context.Context, tenantID, botID, groupID string, req UpdateGroupRequest) (*database.GroupRecord, error) {
	if _, err := s.owned(ctx, tenantID, botID); err != nil {
		return nil, err
	}
	if err := s.check(req); err != nil {
		return nil, err
	}

	group, err := s.store.GetGroup(ctx, botID, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("group %s not found", groupID))
	}

	if req.Name != nil {
		group.Name = strings.TrimSpace(*req.Name)
	}
	if req.IsProtected != nil {
		group.IsProtected = *req.IsProtected
	}
	if req.Whitelist != nil {
		group.Whitelist = *req.Whitelist
	}

	if err := s.store.UpdateGroup(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

// RemoveGroup deletes a group and its warnings.
func (s *BotService) RemoveGroup(ctx context.Context, tenantID, botID, groupID string) error {
	if _, err := s.owned(ctx, tenantID, botID); err != nil {
		return err
	}
	return s.store.DeleteGroup(ctx, botID, groupID)
}
