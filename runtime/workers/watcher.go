package workers

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"office-messenger/contract"
)

// WatcherWorker is the change-notification bus. It watches the message-log
// root for filesystem events and, on every create or write of a channel
// log, loads that channel's newest record and hands it to the fan-out
// engine. Because delivery is keyed off the file event rather than the
// insert call, writes performed by other processes against the same
// directory reach connected clients too.
type WatcherWorker struct {
	log       *slog.Logger
	root      string
	store     contract.MessageStore
	deliverer contract.Deliverer
}

func NewWatcherWorker(log *slog.Logger, root string, store contract.MessageStore, deliverer contract.Deliverer) *WatcherWorker {
	return &WatcherWorker{log: log, root: root, store: store, deliverer: deliverer}
}

func (w *WatcherWorker) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create log watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	w.log.Info("Watching channel logs", "root", w.root)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("Log watcher error", "err", err)
		}
	}
}

func (w *WatcherWorker) handle(event fsnotify.Event) {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
		return
	}
	name := filepath.Base(event.Name)
	// Only the channel logs themselves; this also skips SQLite side files
	// (-journal, -wal, -shm) and the channel directory.
	if !strings.HasSuffix(name, ".db") || name == "channel.db" {
		return
	}
	channel := strings.TrimSuffix(name, ".db")

	rec, err := w.store.LatestMessage(channel)
	if err != nil {
		w.log.Warn("Cannot load newest record after log change", "channel", channel, "err", err)
		return
	}
	if rec == nil {
		// The file event can land before the first insert commits, or the
		// event was schema creation only. Nothing to deliver yet.
		w.log.Debug("Log changed but holds no record", "channel", channel)
		return
	}

	delivered := w.deliverer.Deliver(channel, *rec)
	w.log.Debug("Record fanned out", "channel", channel, "id", rec.ID, "delivered", delivered)
}
