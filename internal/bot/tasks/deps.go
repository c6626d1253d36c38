// Package tasks implements the scheduled maintenance tasks.
package tasks

import (
	"log/slog"

	"github.com/edgard/hyperbot/internal/database"
)

// TaskDeps contains the dependencies of scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
}
