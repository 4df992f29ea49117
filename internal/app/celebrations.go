package app

import (
	"context"
	"fmt"
	"strings"

	"mintwatch/internal/storage"
)

// AddCelebration stores a sticker or animation for a category.
func (a *App) AddCelebration(ctx context.Context, category, kind, fileID, caption string) (storage.CelebrationMedia, error) {
	mediaKind, err := storage.ParseMediaKind(kind)
	if err != nil {
		return storage.CelebrationMedia{}, err
	}

	st, err := a.openStores(ctx, true)
	if err != nil {
		return storage.CelebrationMedia{}, err
	}
	defer st.close()

	media, err := st.media.AddMedia(ctx, storage.CelebrationMedia{
		Kind:     mediaKind,
		FileID:   strings.TrimSpace(fileID),
		Category: strings.ToLower(strings.TrimSpace(category)),
		Caption:  caption,
	})
	if err != nil {
		return storage.CelebrationMedia{}, err
	}

	fmt.Fprintf(a.Out, "celebration %d added to %q (%s)\n", media.ID, media.Category, media.Kind)
	return media, nil
}

// RemoveCelebration deletes a stored celebration item.
func (a *App) RemoveCelebration(ctx context.Context, id int64) error {
	st, err := a.openStores(ctx, true)
	if err != nil {
		return err
	}
	defer st.close()

	deleted, err := st.media.DeleteMedia(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("celebration %d: %w", id, storage.ErrNotFound)
	}

	fmt.Fprintf(a.Out, "celebration %d removed\n", id)
	return nil
}
