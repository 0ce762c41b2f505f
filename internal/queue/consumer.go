package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/juju/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer listens to the songs.changed queue and appends one line per
// event to a log file.
type Consumer struct {
	URL     string      // AMQP broker URL
	LogPath string      // destination file, e.g. logs/songs.log
	Logger  *log.Logger // diagnostics for connection and message failures
}

// Run connects to the broker and consumes until ctx is cancelled,
// reconnecting with exponential backoff capped at 30s.  Messages that
// cannot be handled are rejected without requeueing.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Logger.Warn("song-consumer: failed to dial broker", "err", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Logger.Warn("song-consumer: consume loop ended; reconnecting", "err", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return errors.Annotate(err, "channel open")
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Logger.Warn("song-consumer: set QoS failed", "err", err)
	}
	if _, err := ch.QueueDeclare(SongChangedQueue, true, false, false, false, nil); err != nil {
		return errors.Annotate(err, "queue declare")
	}
	msgs, err := ch.ConsumeWithContext(ctx, SongChangedQueue, "", false, false, false, false, nil)
	if err != nil {
		return errors.Annotate(err, "queue consume")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(d.Body); err != nil {
				c.Logger.Error("song-consumer: handle message failed", "err", err)
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handle(body []byte) error {
	var ev SongChangedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return errors.Annotate(err, "unmarshal")
	}
	if err := os.MkdirAll(filepath.Dir(c.LogPath), 0o755); err != nil {
		return errors.Annotate(err, "mkdir logs")
	}
	f, err := os.OpenFile(c.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Annotate(err, "open log file")
	}
	defer f.Close()
	return errors.Annotate(writeEvent(f, ev), "write log")
}

// writeEvent renders ev as a single human-friendly line.
func writeEvent(w io.Writer, ev SongChangedEvent) error {
	line := fmt.Sprintf("[%s] Song %s | song_id=%d", ev.OccurredAt, ev.Action, ev.SongID)
	if ev.StoreID != "" {
		line += fmt.Sprintf(" | store_id=%s", ev.StoreID)
	}
	if ev.Title != "" {
		line += fmt.Sprintf(" | title=%q", ev.Title)
	}
	_, err := io.WriteString(w, line+"\n")
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
