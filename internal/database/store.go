package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/edgard/hyperbot/internal/errors"
)

// Store defines the interface for database operations.
// Lookups return nil, nil when the row does not exist.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error

	// CreateBot inserts a new bot in status INITIALIZING.
	CreateBot(ctx context.Context, bot *BotRecord) error
	GetBot(ctx context.Context, botID string) (*BotRecord, error)
	GetBotWithGroups(ctx context.Context, botID string) (*BotWithGroups, error)
	ListBotsByTenant(ctx context.Context, tenantID string) ([]*BotWithGroups, error)
	ListBotsByStatus(ctx context.Context, statuses ...BotStatus) ([]*BotRecord, error)

	// UpdateBotStatus moves a bot to a new status. It returns a conflict error
	// when the current status does not allow the transition.
	UpdateBotStatus(ctx context.Context, botID string, update StatusUpdate) error

	// DeleteBot removes a bot with its groups, credentials and warnings.
	DeleteBot(ctx context.Context, botID string) error

	// EnsureGroup inserts the group unless one with the same external id
	// already exists for the bot. It reports whether a row was created.
	EnsureGroup(ctx context.Context, group *GroupRecord) (bool, error)
	CreateGroup(ctx context.Context, group *GroupRecord) error
	GetGroup(ctx context.Context, botID, groupID string) (*GroupRecord, error)
	ListGroups(ctx context.Context, botID string) ([]GroupRecord, error)
	UpdateGroup(ctx context.Context, group *GroupRecord) error
	SetGroupProtection(ctx context.Context, botID, groupID string, protected bool) error
	DeleteGroup(ctx context.Context, botID, groupID string) error

	GetCredentials(ctx context.Context, botID string) (*CredentialRecord, error)
	UpsertCredentials(ctx context.Context, record *CredentialRecord) error
	DeleteCredentials(ctx context.Context, botID string) error

	// AddWarning increments a user's warning counter and returns the new count.
	AddWarning(ctx context.Context, botID, groupID, userJID string) (int, error)
	GetWarnings(ctx context.Context, botID, groupID, userJID string) (int, error)
	ResetWarnings(ctx context.Context, botID, groupID, userJID string) error
}

// StatusUpdate describes a status change. QRCode replaces the stored QR
// payload; leave it invalid to clear it.
type StatusUpdate struct {
	Status       BotStatus
	QRCode       sql.NullString
	TouchAttempt bool // Record the time as the last connection attempt
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction, rolling back unless fn succeeds and
// the commit goes through.
func (s *sqlxStore) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction", "op", op, "error", err)
		return apperrors.NewPersistenceError("failed to begin transaction", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "op", op, "error", rollbackErr)
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "op", op, "error", err)
		return apperrors.NewPersistenceError("failed to commit transaction", err)
	}
	tx = nil
	return nil
}

// CreateBot inserts a new bot record. Timestamps and the initial status are set here.
func (s *sqlxStore) CreateBot(ctx context.Context, bot *BotRecord) error {
	if bot == nil {
		return apperrors.NewValidationError("cannot save nil bot", nil)
	}
	if bot.ID == "" || bot.TenantID == "" {
		return apperrors.NewValidationError("bot must have an id and a tenant id", nil)
	}

	now := s.now()
	bot.Status = StatusInitializing
	bot.QRCode = sql.NullString{}
	bot.CreatedAt = now
	bot.UpdatedAt = now
	if bot.Config == nil {
		bot.Config = JSONMap{}
	}

	query := `
        INSERT INTO bots (id, tenant_id, name, config, status, qr_code, last_connection_attempt, created_at, updated_at)
        VALUES (:id, :tenant_id, :name, :config, :status, :qr_code, :last_connection_attempt, :created_at, :updated_at);
    `
	if _, err := s.db.NamedExecContext(ctx, query, bot); err != nil {
		s.logger.ErrorContext(ctx, "Error creating bot", "bot_id", bot.ID, "tenant_id", bot.TenantID, "error", err)
		return apperrors.NewPersistenceError(fmt.Sprintf("failed to create bot %s", bot.ID), err)
	}

	s.logger.DebugContext(ctx, "Bot created", "bot_id", bot.ID, "tenant_id", bot.TenantID)
	return nil
}

const botColumns = `id, tenant_id, name, config, status, qr_code, last_connection_attempt, created_at, updated_at`

// GetBot retrieves a bot by id. Returns nil, nil if not found.
func (s *sqlxStore) GetBot(ctx context.Context, botID string) (*BotRecord, error) {
	var bot BotRecord
	err := s.db.GetContext(ctx, &bot, `SELECT `+botColumns+` FROM bots WHERE id = ?`, botID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No bot found", "bot_id", botID)
		return nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching bot", "bot_id", botID, "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting bot", "bot_id", botID, "error", err)
		return nil, apperrors.NewPersistenceError(fmt.Sprintf("failed to get bot %s", botID), err)
	}

	return &bot, nil
}

// GetBotWithGroups retrieves a bot and its groups. Returns nil, nil if not found.
func (s *sqlxStore) GetBotWithGroups(ctx context.Context, botID string) (*BotWithGroups, error) {
	bot, err := s.GetBot(ctx, botID)
	if err != nil || bot == nil {
		return nil, err
	}

	groups, err := s.ListGroups(ctx, botID)
	if err != nil {
		return nil, err
	}

	return &BotWithGroups{BotRecord: *bot, Groups: groups}, nil
}

// ListBotsByTenant returns every bot a tenant owns, oldest first, with groups attached.
func (s *sqlxStore) ListBotsByTenant(ctx context.Context, tenantID string) ([]*BotWithGroups, error) {
	var bots []BotRecord
	query := `SELECT ` + botColumns + ` FROM bots WHERE tenant_id = ? ORDER BY created_at ASC, id ASC`
	if err := s.db.SelectContext(ctx, &bots, query, tenantID); err != nil {
		s.logger.ErrorContext(ctx, "Error listing tenant bots", "tenant_id", tenantID, "error", err)
		return nil, apperrors.NewPersistenceError("failed to list bots", err)
	}

	result := make([]*BotWithGroups, 0, len(bots))
	for _, bot := range bots {
		groups, err := s.ListGroups(ctx, bot.ID)
		if err != nil {
			return nil, err
		}
		result = append(result, &BotWithGroups{BotRecord: bot, Groups: groups})
	}

	s.logger.DebugContext(ctx, "Listed tenant bots", "tenant_id", tenantID, "count", len(result))
	return result, nil
}

// ListBotsByStatus returns every bot whose status is one of statuses.
func (s *sqlxStore) ListBotsByStatus(ctx context.Context, statuses ...BotStatus) ([]*BotRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT `+botColumns+` FROM bots WHERE status IN (?) ORDER BY created_at ASC, id ASC`, statuses)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error building query for listing bots by status", "error", err)
		return nil, fmt.Errorf("failed to build query for listing bots: %w", err)
	}

	var bots []*BotRecord
	if err := s.db.SelectContext(ctx, &bots, s.db.Rebind(query), args...); err != nil {
		s.logger.ErrorContext(ctx, "Error listing bots by status", "statuses", statuses, "error", err)
		return nil, apperrors.NewPersistenceError("failed to list bots by status", err)
	}

	return bots, nil
}

// UpdateBotStatus validates and applies a status change in one transaction.
func (s *sqlxStore) UpdateBotStatus(ctx context.Context, botID string, update StatusUpdate) error {
	if !update.Status.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown bot status %q", update.Status), nil)
	}

	return s.withTx(ctx, "update_bot_status", func(tx *sqlx.Tx) error {
		var current BotStatus
		err := tx.GetContext(ctx, &current, `SELECT status FROM bots WHERE id = ?`, botID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFoundError(fmt.Sprintf("bot %s not found", botID))
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "Error reading bot status", "bot_id", botID, "error", err)
			return apperrors.NewPersistenceError("failed to read bot status", err)
		}

		if !current.CanTransitionTo(update.Status) {
			s.logger.WarnContext(ctx, "Rejected bot status transition",
				"bot_id", botID, "from", current, "to", update.Status)
			return apperrors.NewConflictError(fmt.Sprintf("bot %s cannot move from %s to %s", botID, current, update.Status))
		}

		now := s.now()
		query := `UPDATE bots SET status = ?, qr_code = ?, updated_at = ? WHERE id = ?`
		args := []any{update.Status, update.QRCode, now, botID}
		if update.TouchAttempt {
			query = `UPDATE bots SET status = ?, qr_code = ?, updated_at = ?, last_connection_attempt = ? WHERE id = ?`
			args = []any{update.Status, update.QRCode, now, now, botID}
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			s.logger.ErrorContext(ctx, "Error updating bot status", "bot_id", botID, "status", update.Status, "error", err)
			return apperrors.NewPersistenceError("failed to update bot status", err)
		}

		s.logger.DebugContext(ctx, "Bot status updated", "bot_id", botID, "from", current, "to", update.Status)
		return nil
	})
}

// DeleteBot removes the bot and everything that belongs to it.
func (s *sqlxStore) DeleteBot(ctx context.Context, botID string) error {
	return s.withTx(ctx, "delete_bot", func(tx *sqlx.Tx) error {
		for _, query := range []string{
			`DELETE FROM warnings WHERE bot_id = ?`,
			`DELETE FROM bot_groups WHERE bot_id = ?`,
			`DELETE FROM bot_credentials WHERE bot_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, query, botID); err != nil {
				s.logger.ErrorContext(ctx, "Error deleting bot data", "bot_id", botID, "error", err)
				return apperrors.NewPersistenceError("failed to delete bot data", err)
			}
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM bots WHERE id = ?`, botID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Error deleting bot", "bot_id", botID, "error", err)
			return apperrors.NewPersistenceError("failed to delete bot", err)
		}
		if affected, err := result.RowsAffected(); err == nil && affected == 0 {
			return apperrors.NewNotFoundError(fmt.Sprintf("bot %s not found", botID))
		}

		s.logger.InfoContext(ctx, "Bot deleted", "bot_id", botID)
		return nil
	})
}

const groupColumns = `id, bot_id, group_id, name, is_protected, whitelist, created_at, updated_at`

func (s *sqlxStore) stampGroup(group *GroupRecord) {
	now := s.now()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now
	if group.Whitelist == nil {
		group.Whitelist = StringList{}
	}
}

// EnsureGroup inserts the group if absent. Concurrent callers for the same
// external group id end up with exactly one row.
func (s *sqlxStore) EnsureGroup(ctx context.Context, group *GroupRecord) (bool, error) {
	s.stampGroup(group)

	query := `
        INSERT INTO bot_groups (` + groupColumns + `)
        VALUES (:id, :bot_id, :group_id, :name, :is_protected, :whitelist, :created_at, :updated_at)
        ON CONFLICT (bot_id, group_id) DO NOTHING;
    `
	result, err := s.db.NamedExecContext(ctx, query, group)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error ensuring group", "bot_id", group.BotID, "group_id", group.GroupID, "error", err)
		return false, apperrors.NewPersistenceError("failed to ensure group", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not get affected row count when ensuring group", "group_id", group.GroupID, "error", err)
		return false, nil
	}
	return affected == 1, nil
}

// CreateGroup inserts a group explicitly requested by the owning tenant.
func (s *sqlxStore) CreateGroup(ctx context.Context, group *GroupRecord) error {
	created, err := s.EnsureGroup(ctx, group)
	if err != nil {
		return err
	}
	if !created {
		return apperrors.NewConflictError(fmt.Sprintf("group %s already exists", group.GroupID))
	}

	s.logger.DebugContext(ctx, "Group created", "bot_id", group.BotID, "group_id", group.GroupID)
	return nil
}

// GetGroup retrieves a bot's group by external id. Returns nil, nil if not found.
func (s *sqlxStore) GetGroup(ctx context.Context, botID, groupID string) (*GroupRecord, error) {
	var group GroupRecord
	err := s.db.GetContext(ctx, &group,
		`SELECT `+groupColumns+` FROM bot_groups WHERE bot_id = ? AND group_id = ?`, botID, groupID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting group", "bot_id", botID, "group_id", groupID, "error", err)
		return nil, apperrors.NewPersistenceError("failed to get group", err)
	}

	return &group, nil
}

// ListGroups returns the groups of a bot ordered by creation.
func (s *sqlxStore) ListGroups(ctx context.Context, botID string) ([]GroupRecord, error) {
	groups := []GroupRecord{}
	err := s.db.SelectContext(ctx, &groups,
		`SELECT `+groupColumns+` FROM bot_groups WHERE bot_id = ? ORDER BY created_at ASC, id ASC`, botID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing groups", "bot_id", botID, "error", err)
		return nil, apperrors.NewPersistenceError("failed to list groups", err)
	}
	return groups, nil
}

// UpdateGroup overwrites the name, protection flag and whitelist of a group.
func (s *sqlxStore) UpdateGroup(ctx context.Context, group *GroupRecord) error {
	s.stampGroup(group)

	result, err := s.db.NamedExecContext(ctx, `
        UPDATE bot_groups SET name = :name, is_protected = :is_protected, whitelist = :whitelist, updated_at = :updated_at
        WHERE bot_id = :bot_id AND group_id = :group_id;
    `, group)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating group", "bot_id", group.BotID, "group_id", group.GroupID, "error", err)
		return apperrors.NewPersistenceError("failed to update group", err)
	}
	return expectOne(result, fmt.Sprintf("group %s not found", group.GroupID))
}

// SetGroupProtection toggles link protection for a group.
func (s *sqlxStore) SetGroupProtection(ctx context.Context, botID, groupID string, protected bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE bot_groups SET is_protected = ?, updated_at = ? WHERE bot_id = ? AND group_id = ?`,
		protected, s.now(), botID, groupID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating group protection", "bot_id", botID, "group_id", groupID, "error", err)
		return apperrors.NewPersistenceError("failed to update group protection", err)
	}
	return expectOne(result, fmt.Sprintf("group %s not found", groupID))
}

// DeleteGroup removes a group and its warnings.
func (s *sqlxStore) DeleteGroup(ctx context.Context, botID, groupID string) error {
	return s.withTx(ctx, "delete_group", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM warnings WHERE bot_id = ? AND group_id = ?`, botID, groupID); err != nil {
			return apperrors.NewPersistenceError("failed to delete group warnings", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM bot_groups WHERE bot_id = ? AND group_id = ?`, botID, groupID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Error deleting group", "bot_id", botID, "group_id", groupID, "error", err)
			return apperrors.NewPersistenceError("failed to delete group", err)
		}
		return expectOne(result, fmt.Sprintf("group %s not found", groupID))
	})
}

// GetCredentials returns the encrypted credentials of a bot. Returns nil, nil if not found.
func (s *sqlxStore) GetCredentials(ctx context.Context, botID string) (*CredentialRecord, error) {
	var record CredentialRecord
	err := s.db.GetContext(ctx, &record,
		`SELECT bot_id, creds, keys, updated_at FROM bot_credentials WHERE bot_id = ?`, botID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting credentials", "bot_id", botID, "error", err)
		return nil, apperrors.NewPersistenceError("failed to get credentials", err)
	}

	return &record, nil
}

// UpsertCredentials replaces the stored credentials of a bot.
func (s *sqlxStore) UpsertCredentials(ctx context.Context, record *CredentialRecord) error {
	record.UpdatedAt = s.now()

	_, err := s.db.NamedExecContext(ctx, `
        INSERT INTO bot_credentials (bot_id, creds, keys, updated_at)
        VALUES (:bot_id, :creds, :keys, :updated_at)
        ON CONFLICT (bot_id) DO UPDATE SET creds = excluded.creds, keys = excluded.keys, updated_at = excluded.updated_at;
    `, record)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving credentials", "bot_id", record.BotID, "error", err)
		return apperrors.NewPersistenceError("failed to save credentials", err)
	}
	return nil
}

// DeleteCredentials removes the stored credentials of a bot, if any.
func (s *sqlxStore) DeleteCredentials(ctx context.Context, botID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bot_credentials WHERE bot_id = ?`, botID); err != nil {
		s.logger.ErrorContext(ctx, "Error deleting credentials", "bot_id", botID, "error", err)
		return apperrors.NewPersistenceError("failed to delete credentials", err)
	}
	s.logger.DebugContext(ctx, "Credentials deleted", "bot_id", botID)
	return nil
}

// AddWarning increments the warning counter of a user in a group.
func (s *sqlxStore) AddWarning(ctx context.Context, botID, groupID, userJID string) (int, error) {
	var count int
	err := s.withTx(ctx, "add_warning", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO warnings (bot_id, group_id, user_jid, count, updated_at) VALUES (?, ?, ?, 1, ?)
            ON CONFLICT (bot_id, group_id, user_jid) DO UPDATE SET count = count + 1, updated_at = excluded.updated_at;
        `, botID, groupID, userJID, s.now())
		if err != nil {
			s.logger.ErrorContext(ctx, "Error adding warning", "bot_id", botID, "group_id", groupID, "error", err)
			return apperrors.NewPersistenceError("failed to add warning", err)
		}
		if err := tx.GetContext(ctx, &count,
			`SELECT count FROM warnings WHERE bot_id = ? AND group_id = ? AND user_jid = ?`, botID, groupID, userJID); err != nil {
			return apperrors.NewPersistenceError("failed to read warning count", err)
		}
		return nil
	})
	return count, err
}

// GetWarnings returns the warning counter of a user in a group.
func (s *sqlxStore) GetWarnings(ctx context.Context, botID, groupID, userJID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT count FROM warnings WHERE bot_id = ? AND group_id = ? AND user_jid = ?`, botID, groupID, userJID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting warnings", "bot_id", botID, "group_id", groupID, "error", err)
		return 0, apperrors.NewPersistenceError("failed to get warnings", err)
	}
	return count, nil
}

// ResetWarnings clears the warning counter of a user in a group.
func (s *sqlxStore) ResetWarnings(ctx context.Context, botID, groupID, userJID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM warnings WHERE bot_id = ? AND group_id = ? AND user_jid = ?`, botID, groupID, userJID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error resetting warnings", "bot_id", botID, "group_id", groupID, "error", err)
		return apperrors.NewPersistenceError("failed to reset warnings", err)
	}
	return nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}

func expectOne(result sql.Result, notFound string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return nil
	}
	if affected == 0 {
		return apperrors.NewNotFoundError(notFound)
	}
	return nil
}
