package migrations

import (
	"gorm.io/gorm"
)

// Migration001ConversationPairCheck enforces the participant ordering the pair key relies on.
// The unique pair index itself comes from the model tags; this adds the CHECK that
// participant_a sorts before participant_b and that the key matches them.
func Migration001ConversationPairCheck() Migration {
	return Migration{
		ID:   "001_conversation_pair_check",
		Name: "Enforce ordered, distinct conversation participants",
		Up: func(db *gorm.DB) error {
			if !isPostgres(db) {
				return nil
			}

			var count int64
			checkSQL := `
				SELECT COUNT(*)
				FROM information_schema.table_constraints
				WHERE constraint_name = 'chk_conversations_pair'
				AND table_name = 'conversations'
			`
			if err := db.Raw(checkSQL).Scan(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return nil
			}

			return db.Exec(`
				ALTER TABLE conversations
				ADD CONSTRAINT chk_conversations_pair
				CHECK (participant_a < participant_b
					AND participant_key = participant_a || ':' || participant_b)
			`).Error
		},
		Down: func(db *gorm.DB) error {
			if !isPostgres(db) {
				return nil
			}
			return db.Exec(`
				ALTER TABLE conversations
				DROP CONSTRAINT IF EXISTS chk_conversations_pair
			`).Error
		},
	}
}
