package main

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/4xmen/goftgu/internal/chat"
	"github.com/4xmen/goftgu/pkg/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show application statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		return runStatus(cfg, cmd.OutOrStdout(), asJSON)
	},
}

func init() {
	statusCmd.Flags().BoolP("json", "j", false, "print status as JSON")
}

type appStatus struct {
	GeneratedAt         time.Time
	Environment         string
	Port                string
	DatabasePath        string
	Users               int64
	OnlineUsers         int64
	DirectConversations int64
	GroupConversations  int64
	Messages            int64
	DeletedMessages     int64
	ReadReceipts        int64
	ActiveTypers        int64
	PushSubscriptions   int64
	LatestMessageAt     int64
	DBSize              int64
	DBWALSize           int64
	DBSHMSize           int64
	DBMetricsReady      bool
	DBWarning           string
	StorageWarnings     []string
}

func runStatus(cfg *config.Config, out io.Writer, asJSON bool) error {
	status := collectStatus(cfg, time.Now())
	if asJSON {
		return printStatusJSON(out, status)
	}
	printStatus(out, status)
	return nil
}

func collectStatus(cfg *config.Config, now time.Time) appStatus {
	status := appStatus{
		GeneratedAt:  now,
		Environment:  cfg.Environment,
		Port:         cfg.Port,
		DatabasePath: cfg.DatabasePath,
	}

	if size, err := fileSize(cfg.DatabasePath); err == nil {
		status.DBSize = size
	} else {
		status.StorageWarnings = append(status.StorageWarnings, fmt.Sprintf("database file: %v", err))
	}

	if size, err := fileSize(cfg.DatabasePath + "-wal"); err == nil {
		status.DBWALSize = size
	}

	if size, err := fileSize(cfg.DatabasePath + "-shm"); err == nil {
		status.DBSHMSize = size
	}

	if _, err := os.Stat(cfg.DatabasePath); err != nil {
		status.DBWarning = fmt.Sprintf("database unavailable: %v", err)
		return status
	}

	dbConn, err := sql.Open("sqlite3", cfg.DatabasePath)
	if err != nil {
		status.DBWarning = fmt.Sprintf("database unavailable: %v", err)
		return status
	}
	defer dbConn.Close()

	if err := dbConn.Ping(); err != nil {
		status.DBWarning = fmt.Sprintf("database unavailable: %v", err)
		return status
	}

	typingSince := now.Add(-chat.TypingWindow).UnixMilli()
	counters := []struct {
		dst   *int64
		query string
		args  []any
	}{
		{&status.Users, "SELECT COUNT(*) FROM users", nil},
		{&status.OnlineUsers, "SELECT COUNT(*) FROM users WHERE is_online = 1", nil},
		{&status.DirectConversations, "SELECT COUNT(*) FROM conversations WHERE is_group = 0", nil},
		{&status.GroupConversations, "SELECT COUNT(*) FROM conversations WHERE is_group = 1", nil},
		{&status.Messages, "SELECT COUNT(*) FROM messages", nil},
		{&status.DeletedMessages, "SELECT COUNT(*) FROM messages WHERE is_deleted = 1", nil},
		{&status.ReadReceipts, "SELECT COUNT(*) FROM read_receipts", nil},
		{&status.ActiveTypers, "SELECT COUNT(*) FROM typing_indicators WHERE is_typing = 1 AND last_typing_at > ?", []any{typingSince}},
		{&status.PushSubscriptions, "SELECT COUNT(*) FROM push_subscriptions", nil},
		{&status.LatestMessageAt, "SELECT COALESCE(MAX(created_at), 0) FROM messages", nil},
	}

	for _, c := range counters {
		if *c.dst, err = queryInt64(dbConn, c.query, c.args...); err != nil {
			status.DBWarning = fmt.Sprintf("could not read database stats: %v", err)
			return status
		}
	}

	status.DBMetricsReady = true
	return status
}

func queryInt64(db *sql.DB, query string, args ...any) (int64, error) {
	var value int64
	if err := db.QueryRow(query, args...).Scan(&value); err != nil {
		return 0, err
	}
	return value, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

func formatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}

// formatTimestamp renders a Unix millisecond timestamp relative to now.
func formatTimestamp(ms int64, now time.Time) string {
	if ms <= 0 {
		return "n/a"
	}
	t := time.UnixMilli(ms)
	return fmt.Sprintf("%s (%s)", t.UTC().Format(time.RFC3339), humanize.RelTime(t, now, "ago", "from now"))
}

func printStatus(out io.Writer, status appStatus) {
	totalDB := status.DBSize + status.DBWALSize + status.DBSHMSize

	fmt.Fprintln(out, "Goftgu Status")
	fmt.Fprintf(out, "Generated at: %s\n", status.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Environment : %s\n", status.Environment)
	fmt.Fprintf(out, "Port        : %s\n", status.Port)
	fmt.Fprintf(out, "Database    : %s\n", status.DatabasePath)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Data")
	if status.DBMetricsReady {
		fmt.Fprintf(out, "  Users               : %s (%s online)\n", humanize.Comma(status.Users), humanize.Comma(status.OnlineUsers))
		fmt.Fprintf(out, "  Direct conversations: %s\n", humanize.Comma(status.DirectConversations))
		fmt.Fprintf(out, "  Group conversations : %s\n", humanize.Comma(status.GroupConversations))
		fmt.Fprintf(out, "  Messages            : %s (%s deleted)\n", humanize.Comma(status.Messages), humanize.Comma(status.DeletedMessages))
		fmt.Fprintf(out, "  Read receipts       : %s\n", humanize.Comma(status.ReadReceipts))
		fmt.Fprintf(out, "  Typing now          : %s\n", humanize.Comma(status.ActiveTypers))
		fmt.Fprintf(out, "  Push subscriptions  : %s\n", humanize.Comma(status.PushSubscriptions))
		fmt.Fprintf(out, "  Latest message at   : %s\n", formatTimestamp(status.LatestMessageAt, status.GeneratedAt))
	} else {
		fmt.Fprintln(out, "  Database metrics    : n/a")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Storage")
	fmt.Fprintf(out, "  DB file       : %s\n", formatBytes(status.DBSize))
	fmt.Fprintf(out, "  DB WAL file   : %s\n", formatBytes(status.DBWALSize))
	fmt.Fprintf(out, "  DB SHM file   : %s\n", formatBytes(status.DBSHMSize))
	fmt.Fprintf(out, "  DB footprint  : %s\n", formatBytes(totalDB))

	if status.DBWarning != "" {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Warning: %s\n", status.DBWarning)
	}

	if len(status.StorageWarnings) > 0 {
		fmt.Fprintln(out)
		for _, warning := range status.StorageWarnings {
			fmt.Fprintf(out, "Warning: %s\n", warning)
		}
	}
}

func printStatusJSON(out io.Writer, status appStatus) error {
	footprint := status.DBSize + status.DBWALSize + status.DBSHMSize
	payload := map[string]any{
		"generated_at":  status.GeneratedAt.Format(time.RFC3339),
		"environment":   status.Environment,
		"port":          status.Port,
		"database_path": status.DatabasePath,
		"metrics_ready": status.DBMetricsReady,
		"metrics": map[string]any{
			"users":                status.Users,
			"online_users":         status.OnlineUsers,
			"direct_conversations": status.DirectConversations,
			"group_conversations":  status.GroupConversations,
			"messages":             status.Messages,
			"deleted_messages":     status.DeletedMessages,
			"read_receipts":        status.ReadReceipts,
			"active_typers":        status.ActiveTypers,
			"push_subscriptions":   status.PushSubscriptions,
			"latest_message_at":    status.LatestMessageAt,
		},
		"storage": map[string]any{
			"db_file_bytes":      status.DBSize,
			"db_wal_bytes":       status.DBWALSize,
			"db_shm_bytes":       status.DBSHMSize,
			"db_footprint_bytes": footprint,
			"db_file_hum":        formatBytes(status.DBSize),
			"db_wal_hum":         formatBytes(status.DBWALSize),
			"db_shm_hum":         formatBytes(status.DBSHMSize),
			"db_footprint_hum":   formatBytes(footprint),
		},
		"warnings": map[string]any{
			"database": status.DBWarning,
			"storage":  status.StorageWarnings,
		},
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
