// Package audit appends to the immutable audit trail. Writes are
// fire-and-forget: failures are logged but never surfaced to business
// flows, and no code path deletes an audit row.
package audit

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chetanchaudhari789/MOBO-sub004/models"
)

// Writer records audit entries against the relational store.
type Writer struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewWriter constructs an audit writer.
func NewWriter(db *gorm.DB, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{db: db, logger: logger, now: time.Now}
}

// Entry bundles the facts of one audited action.
type Entry struct {
	Actor      *uuid.UUID
	Action     string
	EntityType string
	EntityID   string
	IP         string
	UserAgent  string
	Metadata   map[string]any
}

// Write appends one audit record. When tx is non-nil the row joins the
// caller's transactional unit; otherwise it is written independently.
// Failures are swallowed after logging.
func (w *Writer) Write(tx *gorm.DB, entry Entry) {
	if w == nil {
		return
	}
	db := tx
	if db == nil {
		db = w.db
	}
	var metadata json.RawMessage
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			w.logger.Error("audit: encode metadata", "action", entry.Action, "error", err)
		} else {
			metadata = encoded
		}
	}
	row := models.AuditLog{
		ID:         uuid.New(),
		ActorID:    entry.Actor,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		IP:         entry.IP,
		UserAgent:  entry.UserAgent,
		Metadata:   metadata,
		CreatedAt:  w.now().UTC(),
	}
	if err := db.Create(&row).Error; err != nil {
		w.logger.Error("audit: append entry", "action", entry.Action, "entityType", entry.EntityType, "error", err)
	}
}
