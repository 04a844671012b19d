package migrations

import (
	"gorm.io/gorm"
)

// Migration002ChatIndexes adds partial indexes for the chat hot paths:
// 1. Unread lookups (receiver_id WHERE NOT is_read) for mark-read and badges
// 2. Conversation history scans that skip soft-deleted rows
func Migration002ChatIndexes() Migration {
	return Migration{
		ID:        "002_chat_indexes",
		Name:      "Add partial indexes for unread and history queries",
		DependsOn: []string{"001_conversation_pair_check"},
		Up: func(db *gorm.DB) error {
			stmts := []string{
				`CREATE INDEX IF NOT EXISTS idx_messages_unread
					ON messages (conversation_id, receiver_id) WHERE is_read = false`,
				`CREATE INDEX IF NOT EXISTS idx_messages_history_live
					ON messages (conversation_id, created_at, id) WHERE deleted_at IS NULL`,
			}
			for _, stmt := range stmts {
				if err := db.Exec(stmt).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Down: func(db *gorm.DB) error {
			if err := db.Exec(`DROP INDEX IF EXISTS idx_messages_history_live`).Error; err != nil {
				return err
			}
			return db.Exec(`DROP INDEX IF EXISTS idx_messages_unread`).Error
		},
	}
}
