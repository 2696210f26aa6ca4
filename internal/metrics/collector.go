package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"
)

// Collector refreshes the store gauges on a cron schedule.
type Collector struct {
	db     *sql.DB
	cron   string
	logger zerolog.Logger
	stopCh chan struct{}
}

// NewCollector validates cronExpr and returns a collector for db.
func NewCollector(db *sql.DB, cronExpr string, logger zerolog.Logger) (*Collector, error) {
	if cronExpr == "" {
		cronExpr = "* * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid stats cron expression: %s", cronExpr)
	}
	return &Collector{
		db:     db,
		cron:   cronExpr,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// Start collects once, then on every tick of the cron expression until ctx
// is done or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		c.collectAndLog(ctx)

		for {
			next, err := gronx.NextTickAfter(c.cron, time.Now(), false)
			if err != nil {
				c.logger.Error().Err(err).Str("cron", c.cron).Msg("failed to compute next stats tick")
				return
			}

			timer := time.NewTimer(time.Until(next))
			select {
			case <-timer.C:
				c.collectAndLog(ctx)
			case <-ctx.Done():
				timer.Stop()
				return
			case <-c.stopCh:
				timer.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collectAndLog(ctx context.Context) {
	if err := c.Collect(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("failed to collect store metrics")
	}
}

// Collect reads current store counts into the gauges.
func (c *Collector) Collect(ctx context.Context) error {
	var users, online, direct, groups, live, deleted int
	err := c.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE is_online = 1),
			(SELECT COUNT(*) FROM conversations WHERE is_group = 0),
			(SELECT COUNT(*) FROM conversations WHERE is_group = 1),
			(SELECT COUNT(*) FROM messages WHERE is_deleted = 0),
			(SELECT COUNT(*) FROM messages WHERE is_deleted = 1)
	`).Scan(&users, &online, &direct, &groups, &live, &deleted)
	if err != nil {
		return fmt.Errorf("failed to query store counts: %w", err)
	}

	UsersTotal.Set(float64(users))
	UsersOnline.Set(float64(online))
	ConversationsTotal.WithLabelValues("direct").Set(float64(direct))
	ConversationsTotal.WithLabelValues("group").Set(float64(groups))
	MessagesTotal.WithLabelValues("live").Set(float64(live))
	MessagesTotal.WithLabelValues("deleted").Set(float64(deleted))
	return nil
}
