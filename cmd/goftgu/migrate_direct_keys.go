package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/4xmen/goftgu/internal/chat"
	"github.com/4xmen/goftgu/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run data migrations",
}

var migrateDirectKeysCmd = &cobra.Command{
	Use:   "direct-keys",
	Short: "Backfill the pair key of direct conversations",
	Long: `Backfill direct_key for direct conversations created before the key
existed. When several conversations share the same pair, the oldest keeps the
key and the others are reported and left unkeyed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := directKeysMigrationOptions{}
		opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
		opts.DatabasePath, _ = cmd.Flags().GetString("database")

		if opts.DatabasePath == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts.DatabasePath = cfg.DatabasePath
		}
		if strings.TrimSpace(opts.DatabasePath) == "" {
			return fmt.Errorf("database path cannot be empty")
		}

		_, err := runDirectKeysMigration(cmd.Context(), cmd.OutOrStdout(), opts)
		return err
	},
}

func init() {
	migrateDirectKeysCmd.Flags().Bool("dry-run", false, "report what would change without writing")
	migrateDirectKeysCmd.Flags().String("database", "", "database path (defaults to DATABASE_PATH)")
	migrateCmd.AddCommand(migrateDirectKeysCmd)
}

type directKeysMigrationOptions struct {
	DatabasePath string
	DryRun       bool
}

type directConversationRecord struct {
	ID             string
	ParticipantIDs []string
}

type directKeyDuplicate struct {
	ConversationID string
	KeptID         string
	Key            string
}

type directKeysReport struct {
	Scanned    int
	Assigned   map[string]string
	Duplicates []directKeyDuplicate
	Invalid    []string
}

func runDirectKeysMigration(ctx context.Context, out io.Writer, opts directKeysMigrationOptions) (*directKeysReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := os.Stat(opts.DatabasePath); err != nil {
		return nil, fmt.Errorf("database unavailable: %w", err)
	}

	dbConn, err := sql.Open("sqlite3", db.DSN(opts.DatabasePath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer dbConn.Close()

	if err := dbConn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	hasKey, err := db.HasColumn(dbConn, "conversations", "direct_key")
	if err != nil {
		return nil, fmt.Errorf("failed to inspect conversations schema: %w", err)
	}

	report, err := planDirectKeys(ctx, dbConn, hasKey)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		fmt.Fprintf(out, "Dry-run successful. Database: %s\n", opts.DatabasePath)
		fmt.Fprintf(out, "Would key %d of %d unkeyed direct conversations.\n", len(report.Assigned), report.Scanned)
		printDirectKeyProblems(out, report)
		return report, nil
	}

	tx, err := dbConn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start migration transaction: %w", err)
	}
	defer tx.Rollback()

	if !hasKey {
		if _, err := tx.ExecContext(ctx, "ALTER TABLE conversations ADD COLUMN direct_key TEXT"); err != nil {
			return nil, fmt.Errorf("failed to add direct_key column: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_direct_key
			ON conversations(direct_key) WHERE direct_key IS NOT NULL
		`); err != nil {
			return nil, fmt.Errorf("failed to create direct_key index: %w", err)
		}
	}

	for id, key := range report.Assigned {
		if _, err := tx.ExecContext(ctx,
			"UPDATE conversations SET direct_key = ? WHERE id = ? AND direct_key IS NULL", key, id); err != nil {
			return nil, fmt.Errorf("failed to key conversation %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit migration: %w", err)
	}

	fmt.Fprintf(out, "Migration completed. Database: %s\n", opts.DatabasePath)
	fmt.Fprintf(out, "Keyed %d of %d unkeyed direct conversations.\n", len(report.Assigned), report.Scanned)
	printDirectKeyProblems(out, report)
	return report, nil
}

// planDirectKeys walks unkeyed direct conversations oldest first and picks
// the one that keeps each pair key.
func planDirectKeys(ctx context.Context, dbConn *sql.DB, hasKey bool) (*directKeysReport, error) {
	taken := make(map[string]string)
	if hasKey {
		rows, err := dbConn.QueryContext(ctx, "SELECT id, direct_key FROM conversations WHERE direct_key IS NOT NULL")
		if err != nil {
			return nil, fmt.Errorf("failed to load direct keys: %w", err)
		}
		for rows.Next() {
			var id, key string
			if err := rows.Scan(&id, &key); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan direct key: %w", err)
			}
			taken[key] = id
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}

	records, err := loadUnkeyedDirectConversations(ctx, dbConn, hasKey)
	if err != nil {
		return nil, err
	}

	report := &directKeysReport{Scanned: len(records), Assigned: make(map[string]string)}
	for _, r := range records {
		if len(r.ParticipantIDs) != 2 || r.ParticipantIDs[0] == r.ParticipantIDs[1] {
			report.Invalid = append(report.Invalid, r.ID)
			continue
		}
		key := chat.DirectKey(r.ParticipantIDs[0], r.ParticipantIDs[1])
		if kept, ok := taken[key]; ok {
			report.Duplicates = append(report.Duplicates, directKeyDuplicate{ConversationID: r.ID, KeptID: kept, Key: key})
			continue
		}
		taken[key] = r.ID
		report.Assigned[r.ID] = key
	}
	return report, nil
}

func loadUnkeyedDirectConversations(ctx context.Context, dbConn *sql.DB, hasKey bool) ([]directConversationRecord, error) {
	query := "SELECT id FROM conversations WHERE is_group = 0 ORDER BY created_at ASC, rowid ASC"
	if hasKey {
		query = "SELECT id FROM conversations WHERE is_group = 0 AND direct_key IS NULL ORDER BY created_at ASC, rowid ASC"
	}

	rows, err := dbConn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load direct conversations: %w", err)
	}
	var records []directConversationRecord
	for rows.Next() {
		var r directConversationRecord
		if err := rows.Scan(&r.ID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	for i := range records {
		ids, err := loadParticipantIDs(ctx, dbConn, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].ParticipantIDs = ids
	}
	return records, nil
}

func loadParticipantIDs(ctx context.Context, dbConn *sql.DB, conversationID string) ([]string, error) {
	rows, err := dbConn.QueryContext(ctx,
		"SELECT user_id FROM conversation_participants WHERE conversation_id = ? ORDER BY position", conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants of %s: %w", conversationID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func printDirectKeyProblems(out io.Writer, report *directKeysReport) {
	for _, d := range report.Duplicates {
		fmt.Fprintf(out, "Duplicate: conversation %s has the same pair as %s, left unkeyed.\n", d.ConversationID, d.KeptID)
	}
	for _, id := range report.Invalid {
		fmt.Fprintf(out, "Invalid: conversation %s does not have exactly two distinct participants.\n", id)
	}
}
