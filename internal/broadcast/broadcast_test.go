package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mintwatch/internal/notify"
	"mintwatch/internal/storage"
	"mintwatch/internal/storage/memory"
)

// recordingDispatcher records deliveries and fails chats listed in failFor.
// A failing chat returns immediately, so the other sends must not depend on
// it being slow.
type recordingDispatcher struct {
	mu        sync.Mutex
	delivered []int64
	texts     []notify.Message
	failFor   map[int64]bool
}

func (d *recordingDispatcher) Notify(ctx context.Context, chatID int64, msg notify.Message) error {
	if d.failFor[chatID] {
		return errors.New("Forbidden: bot was blocked by the user")
	}
	// Give a cancelled context a chance to be observed.
	time.Sleep(5 * time.Millisecond)
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, chatID)
	d.texts = append(d.texts, msg)
	return nil
}

func (d *recordingDispatcher) NotifyMedia(context.Context, int64, notify.Media) error { return nil }

func (d *recordingDispatcher) chats() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := append([]int64(nil), d.delivered...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func registry(t *testing.T, ids ...int64) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	for _, id := range ids {
		_, err := store.UpsertUser(context.Background(), storage.User{ID: id})
		require.NoError(t, err)
	}
	return store
}

func TestSendFailureDoesNotCancelOthers(t *testing.T) {
	d := &recordingDispatcher{failFor: map[int64]bool{2: true}}
	b := New(registry(t, 1, 2, 3, 4), d, Options{Concurrency: 4}, zerolog.Nop())

	res, err := b.Send(context.Background(), notify.Message{Text: "hello"})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Recipients)
	assert.Equal(t, 3, res.Sent)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, int64(2), res.Failed[0].ChatID)
	assert.Error(t, res.Failed[0].Err)
	assert.Equal(t, []int64{1, 3, 4}, d.chats())
}

func TestSendEmptyRegistry(t *testing.T) {
	d := &recordingDispatcher{}
	b := New(memory.NewStore(), d, Options{}, zerolog.Nop())

	res, err := b.Send(context.Background(), notify.Message{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, d.chats())
}

type failingUsers struct{ *memory.Store }

func (failingUsers) ListUserIDs(context.Context) ([]int64, error) {
	return nil, errors.New("db down")
}

func TestSendRegistryFailure(t *testing.T) {
	d := &recordingDispatcher{}
	b := New(failingUsers{memory.NewStore()}, d, Options{}, zerolog.Nop())

	_, err := b.Send(context.Background(), notify.Message{Text: "hello"})
	require.Error(t, err)
	assert.Empty(t, d.chats())
}

func TestTipEscapesMarkdown(t *testing.T) {
	d := &recordingDispatcher{}
	b := New(registry(t, 5), d, Options{}, zerolog.Nop())

	require.NoError(t, b.Tip("Join the group!")(context.Background(), time.Now()))

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.texts, 1)
	assert.Equal(t, `Join the group\!`, d.texts[0].Text)
	assert.Equal(t, notify.ModeMarkdownV2, d.texts[0].ParseMode)
}
