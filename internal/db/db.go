package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	conn *sql.DB
}

// DSN builds the go-sqlite3 data source name. Pragmas are passed as DSN
// parameters so that every pooled connection gets them, not only the one
// that happened to run a PRAGMA statement.
func DSN(path string) string {
	params := url.Values{}
	// WAL lets readers work while a writer is writing
	params.Set("_journal_mode", "WAL")
	// wait up to 5s instead of failing with SQLITE_BUSY
	params.Set("_busy_timeout", "5000")
	params.Set("_synchronous", "NORMAL")
	// -64000 = 64MB page cache
	params.Set("_cache_size", "-64000")
	params.Set("_foreign_keys", "1")
	// BEGIN IMMEDIATE: a transaction takes the write lock up front, so two
	// read-then-write operations serialize instead of deadlocking.
	params.Set("_txlock", "immediate")
	return path + "?" + params.Encode()
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if path == ":memory:" {
		// each connection to :memory: is a separate database
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		identity_key TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		email TEXT UNIQUE NOT NULL,
		image_url TEXT,
		is_online INTEGER NOT NULL DEFAULT 0,
		last_seen INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		is_group INTEGER NOT NULL DEFAULT 0,
		group_name TEXT,
		group_description TEXT,
		group_image TEXT,
		created_by TEXT NOT NULL,
		last_message_id TEXT,
		last_message_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversation_participants (
		conversation_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		PRIMARY KEY (conversation_id, position),
		FOREIGN KEY (conversation_id) REFERENCES conversations(id),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'text',
		is_deleted INTEGER NOT NULL DEFAULT 0,
		deleted_at INTEGER,
		reactions TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id)
	);

	CREATE TABLE IF NOT EXISTS read_receipts (
		conversation_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		last_read_message_id TEXT,
		last_read_at INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS typing_indicators (
		conversation_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		is_typing INTEGER NOT NULL DEFAULT 0,
		last_typing_at INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS push_subscriptions (
		endpoint TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		p256dh TEXT NOT NULL,
		auth TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_identity_key ON users(identity_key);
	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
	CREATE INDEX IF NOT EXISTS idx_conversations_last_message_at ON conversations(last_message_at DESC);
	CREATE INDEX IF NOT EXISTS idx_conversation_participants_user_id ON conversation_participants(user_id);
	CREATE INDEX IF NOT EXISTS idx_conversation_participants_conversation_id ON conversation_participants(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation_time ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_read_receipts_user ON read_receipts(user_id);
	CREATE INDEX IF NOT EXISTS idx_typing_indicators_conversation ON typing_indicators(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_push_subscriptions_user ON push_subscriptions(user_id);
	`

	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}

	// Added after the first release: derived pair key for direct conversations.
	hasDirectKey, err := HasColumn(db.conn, "conversations", "direct_key")
	if err != nil {
		return err
	}
	if !hasDirectKey {
		if _, err := db.conn.Exec("ALTER TABLE conversations ADD COLUMN direct_key TEXT"); err != nil {
			return fmt.Errorf("failed to add direct_key column: %w", err)
		}
	}

	_, err = db.conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_direct_key
		ON conversations(direct_key) WHERE direct_key IS NOT NULL
	`)
	return err
}

// Queryer is satisfied by *sql.DB and *sql.Tx.
type Queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

// HasColumn reports whether table has a column with the given name.
func HasColumn(q Queryer, table, column string) (bool, error) {
	rows, err := q.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name string
		var columnType string
		var notNull int
		var defaultValue any
		var pk int
		if err := rows.Scan(&cid, &name, &columnType, &notNull, &defaultValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) GetConn() *sql.DB {
	return db.conn
}
