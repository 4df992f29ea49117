package celebration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mintwatch/internal/notify"
	"mintwatch/internal/solana"
	"mintwatch/internal/storage"
	"mintwatch/internal/storage/memory"
)

type recordingDispatcher struct {
	mu       sync.Mutex
	messages []notify.Message
	media    []notify.Media
	chats    []int64
	err      error
}

func (d *recordingDispatcher) Notify(_ context.Context, chatID int64, msg notify.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chats = append(d.chats, chatID)
	d.messages = append(d.messages, msg)
	return d.err
}

func (d *recordingDispatcher) NotifyMedia(_ context.Context, chatID int64, media notify.Media) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chats = append(d.chats, chatID)
	d.media = append(d.media, media)
	return d.err
}

func addMedia(t *testing.T, store *memory.Store, category string, kind storage.MediaKind, fileID string) {
	t.Helper()
	_, err := store.AddMedia(context.Background(), storage.CelebrationMedia{
		Category: category,
		Kind:     kind,
		FileID:   fileID,
		Caption:  "to the moon",
	})
	require.NoError(t, err)
}

func TestCelebrateSendsStoredMedia(t *testing.T) {
	store := memory.NewStore()
	addMedia(t, store, "price_up", storage.MediaAnimation, "gif-1")
	d := &recordingDispatcher{}

	c := New(store, d, Options{}, zerolog.Nop())
	require.NoError(t, c.Celebrate(context.Background(), "price_up", 42))

	require.Len(t, d.media, 1)
	assert.Equal(t, notify.Media{Kind: storage.MediaAnimation, FileID: "gif-1", Caption: "to the moon"}, d.media[0])
	assert.Equal(t, []int64{42}, d.chats)
	assert.Empty(t, d.messages)
}

func TestCelebratePicksOnlyFromCategory(t *testing.T) {
	store := memory.NewStore()
	addMedia(t, store, "buy", storage.MediaSticker, "sticker-1")
	addMedia(t, store, "buy", storage.MediaSticker, "sticker-2")
	addMedia(t, store, "price_up", storage.MediaAnimation, "gif-1")
	d := &recordingDispatcher{}

	c := New(store, d, Options{}, zerolog.Nop())
	for i := 0; i < 20; i++ {
		require.NoError(t, c.Celebrate(context.Background(), "buy", 1))
	}

	for _, m := range d.media {
		assert.Contains(t, []string{"sticker-1", "sticker-2"}, m.FileID)
		assert.Equal(t, storage.MediaSticker, m.Kind)
	}
}

func TestCelebrateEmptyCategory(t *testing.T) {
	t.Run("skips without fallback", func(t *testing.T) {
		d := &recordingDispatcher{}
		c := New(memory.NewStore(), d, Options{}, zerolog.Nop())

		require.NoError(t, c.Celebrate(context.Background(), "buy", 5))
		assert.Empty(t, d.chats)
	})

	t.Run("sends fallback text", func(t *testing.T) {
		d := &recordingDispatcher{}
		c := New(memory.NewStore(), d, Options{FallbackMessage: "New buy!"}, zerolog.Nop())

		require.NoError(t, c.Celebrate(context.Background(), "buy", 5))
		require.Len(t, d.messages, 1)
		assert.Equal(t, "New buy!", d.messages[0].Text)
		assert.Empty(t, d.media)
	})
}

func TestCelebrateReturnsDeliveryError(t *testing.T) {
	store := memory.NewStore()
	addMedia(t, store, "buy", storage.MediaSticker, "sticker-1")
	d := &recordingDispatcher{err: errors.New("bot was blocked by the user")}

	c := New(store, d, Options{}, zerolog.Nop())
	assert.Error(t, c.Celebrate(context.Background(), "buy", 5))
}

func TestHandleLogEventCelebratesBuyCategory(t *testing.T) {
	store := memory.NewStore()
	addMedia(t, store, "whale", storage.MediaSticker, "sticker-whale")
	d := &recordingDispatcher{}

	c := New(store, d, Options{BuyCategory: "whale"}, zerolog.Nop())
	handler := c.HandleLogEvent(-1001)

	err := handler(context.Background(), solana.LogEvent{
		Signature: "5h6xBEauJ3PK6SWCZ1PGjBvj8vDdWG3KpwATGy1ARAXFSDwt8GFXM7W5Ncn16wmqokgpiKRLuS83KUxyZyv2sUYv",
		Logs:      []string{"Program log: Instruction: Transfer"},
		Slot:      1234,
	})
	require.NoError(t, err)
	require.Len(t, d.media, 1)
	assert.Equal(t, "sticker-whale", d.media[0].FileID)
	assert.Equal(t, []int64{-1001}, d.chats)
}

func TestHandleLogEventWrapsFailure(t *testing.T) {
	store := memory.NewStore()
	addMedia(t, store, "buy", storage.MediaSticker, "sticker-1")
	d := &recordingDispatcher{err: errors.New("timeout")}

	handler := New(store, d, Options{}, zerolog.Nop()).HandleLogEvent(7)
	err := handler(context.Background(), solana.LogEvent{Signature: "sig"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "celebrate sig")
}
