package workers

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"office-messenger/domain"
	"office-messenger/mocks"
)

func TestWatcherWorker_DeliversNewestRecordOnLogWrite(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	root := t.TempDir()
	store := mocks.NewMockMessageStore(ctrl)
	deliverer := mocks.NewMockDeliverer(ctrl)

	rec := domain.Record{ID: 3, Content: "hi", Sender: "alice"}
	delivered := make(chan string, 4)
	store.EXPECT().LatestMessage("42").Return(&rec, nil).MinTimes(1)
	deliverer.EXPECT().Deliver("42", rec).DoAndReturn(func(channel string, _ domain.Record) int {
		select {
		case delivered <- channel:
		default:
		}
		return 1
	}).MinTimes(1)

	w := NewWatcherWorker(slog.Default(), root, store, deliverer)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	// Give the watch time to attach before touching the directory
	time.Sleep(200 * time.Millisecond)

	// SQLite side files and the channel directory never trigger delivery;
	// an unexpected Deliver call would fail the test through the mock.
	req.NoError(os.WriteFile(filepath.Join(root, "42.db-journal"), []byte("j"), 0o644))
	req.NoError(os.WriteFile(filepath.Join(root, "channel.db"), []byte("d"), 0o644))

	// When a channel log lands on disk
	req.NoError(os.WriteFile(filepath.Join(root, "42.db"), []byte("x"), 0o644))

	select {
	case channel := <-delivered:
		req.Equal("42", channel)
	case <-time.After(2 * time.Second):
		req.Fail("expected a delivery after the log write")
	}
}

func TestWatcherWorker_EmptyLogIsBenign(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	root := t.TempDir()
	store := mocks.NewMockMessageStore(ctrl)
	deliverer := mocks.NewMockDeliverer(ctrl)

	// Given the file event lands before the first insert commits
	observed := make(chan struct{}, 4)
	store.EXPECT().LatestMessage("17").DoAndReturn(func(string) (*domain.Record, error) {
		select {
		case observed <- struct{}{}:
		default:
		}
		return nil, nil
	}).MinTimes(1)

	w := NewWatcherWorker(slog.Default(), root, store, deliverer)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	req.NoError(os.WriteFile(filepath.Join(root, "17.db"), []byte("x"), 0o644))

	// Then the event is observed and swallowed without any delivery
	select {
	case <-observed:
	case <-time.After(2 * time.Second):
		req.Fail("expected the watcher to consult the store")
	}
}
