// internal/helper/schema.go
package helper

import (
	"context"
	"database/sql"
	"fmt"
)

// InitConnectionEventSchema creates the transition history table if missing.
func InitConnectionEventSchema(ctx context.Context, db *sql.DB, dialect string) error {
	var idColumn, textType string
	switch dialect {
	case "postgres":
		idColumn = "id BIGSERIAL PRIMARY KEY"
		textType = "TEXT"
	case "mysql":
		idColumn = "id BIGINT AUTO_INCREMENT PRIMARY KEY"
		textType = "TEXT"
	default:
		idColumn = "id INTEGER PRIMARY KEY AUTOINCREMENT"
		textType = "TEXT"
	}

	schema := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS connection_events (
            %s,
            handle_id       VARCHAR(64) NOT NULL,
            generation      BIGINT NOT NULL DEFAULT 0,
            from_state      VARCHAR(32) NOT NULL,
            to_state        VARCHAR(32) NOT NULL,
            cause           VARCHAR(64) NOT NULL,
            detail          %s,
            created_at      TIMESTAMP NOT NULL
        )`, idColumn, textType)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init connection_events schema: %w", err)
	}

	// mysql has no CREATE INDEX IF NOT EXISTS
	if dialect != "mysql" {
		index := `CREATE INDEX IF NOT EXISTS idx_connection_events_created_at ON connection_events(created_at)`
		if _, err := db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("init connection_events index: %w", err)
		}
	}

	return nil
}
