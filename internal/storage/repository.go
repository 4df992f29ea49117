package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	insertAlertSQL = `INSERT INTO price_alerts (
        user_id,
        symbol,
        target_price,
        direction
    ) VALUES (
        $1,$2,$3::numeric,$4
    )
    RETURNING id, user_id, symbol, target_price::text, direction, created_at;`

	listAllAlertsSQL = `SELECT
        id,
        user_id,
        symbol,
        target_price::text,
        direction,
        created_at
    FROM price_alerts
    ORDER BY id;`

	listUserAlertsSQL = `SELECT
        id,
        user_id,
        symbol,
        target_price::text,
        direction,
        created_at
    FROM price_alerts
    WHERE user_id = $1
    ORDER BY id;`

	deleteAlertSQL     = `DELETE FROM price_alerts WHERE id = $1;`
	deleteUserAlertSQL = `DELETE FROM price_alerts WHERE id = $1 AND user_id = $2;`

	insertMediaSQL = `INSERT INTO celebration_media (
        media_kind,
        file_id,
        category,
        caption
    ) VALUES (
        $1,$2,$3,$4
    )
    RETURNING id;`

	randomMediaSQL = `SELECT
        id,
        media_kind,
        file_id,
        category,
        caption
    FROM celebration_media
    WHERE category = $1
    ORDER BY random()
    LIMIT 1;`

	deleteMediaSQL = `DELETE FROM celebration_media WHERE id = $1;`

	insertQuoteSampleSQL = `INSERT INTO quote_samples (
        symbol,
        price,
        observed_at
    ) VALUES (
        $1,$2::numeric,$3
    );`

	listQuoteSamplesBetweenSQL = `SELECT
        symbol,
        price::text,
        observed_at
    FROM quote_samples
    WHERE symbol = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at;`

	upsertUserSQL = `INSERT INTO users (
        user_id,
        username,
        first_name,
        last_name
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (user_id) DO UPDATE SET
        username   = COALESCE(NULLIF(EXCLUDED.username, ''), users.username),
        first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), users.first_name),
        last_name  = COALESCE(NULLIF(EXCLUDED.last_name, ''), users.last_name)
    RETURNING (xmax = 0);`

	listUserIDsSQL = `SELECT user_id FROM users ORDER BY user_id;`
	countUsersSQL  = `SELECT COUNT(*) FROM users;`
)

// Store implements the alert, celebration, quote and user stores on PostgreSQL.
// Every method is a single statement, so each call is its own transaction.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// CreateAlert validates and persists a new alert; the store assigns the id.
func (s *Store) CreateAlert(ctx context.Context, alert PriceAlert) (PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceAlert{}, err
	}
	if err := alert.Validate(); err != nil {
		return PriceAlert{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.UserID,
		NormalizeSymbol(alert.Symbol),
		alert.TargetPrice.String(),
		string(alert.Direction),
	)
	rec, err := scanAlert(row)
	if err != nil {
		return PriceAlert{}, fmt.Errorf("insert alert: %w", err)
	}
	return rec, nil
}

// ListAllAlerts returns every stored alert ordered by id.
func (s *Store) ListAllAlerts(ctx context.Context) ([]PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAllAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts: %w", queryErr)
	}
	return collectAlerts(rows)
}

// ListUserAlerts returns the alerts owned by userID.
func (s *Store) ListUserAlerts(ctx context.Context, userID int64) ([]PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listUserAlertsSQL, userID)
	if queryErr != nil {
		return nil, fmt.Errorf("list user alerts: %w", queryErr)
	}
	return collectAlerts(rows)
}

// DeleteAlert removes an alert by id. A missing alert yields false, nil.
func (s *Store) DeleteAlert(ctx context.Context, id int64) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertSQL, id)
	if execErr != nil {
		return false, fmt.Errorf("delete alert: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteUserAlert removes an alert only when it belongs to userID.
func (s *Store) DeleteUserAlert(ctx context.Context, id, userID int64) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, deleteUserAlertSQL, id, userID)
	if execErr != nil {
		return false, fmt.Errorf("delete user alert: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// AddMedia stores a celebration item.
func (s *Store) AddMedia(ctx context.Context, media CelebrationMedia) (CelebrationMedia, error) {
	pool, err := s.getPool()
	if err != nil {
		return CelebrationMedia{}, err
	}
	if media.FileID == "" || media.Category == "" {
		return CelebrationMedia{}, fmt.Errorf("%w: file id and category required", ErrInvalidInput)
	}

	var caption interface{}
	if media.Caption != "" {
		caption = media.Caption
	}

	if scanErr := pool.QueryRow(ctx, insertMediaSQL,
		string(media.Kind),
		media.FileID,
		media.Category,
		caption,
	).Scan(&media.ID); scanErr != nil {
		return CelebrationMedia{}, fmt.Errorf("insert celebration media: %w", scanErr)
	}
	return media, nil
}

// RandomMedia picks one item of the category at random.
func (s *Store) RandomMedia(ctx context.Context, category string) (CelebrationMedia, error) {
	pool, err := s.getPool()
	if err != nil {
		return CelebrationMedia{}, err
	}

	var (
		media   CelebrationMedia
		kind    string
		caption sql.NullString
	)
	scanErr := pool.QueryRow(ctx, randomMediaSQL, category).Scan(
		&media.ID,
		&kind,
		&media.FileID,
		&media.Category,
		&caption,
	)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return CelebrationMedia{}, ErrNotFound
	}
	if scanErr != nil {
		return CelebrationMedia{}, fmt.Errorf("random celebration media: %w", scanErr)
	}
	media.Kind = MediaKind(kind)
	if caption.Valid {
		media.Caption = caption.String
	}
	return media, nil
}

// DeleteMedia removes a celebration item. A missing item yields false, nil.
func (s *Store) DeleteMedia(ctx context.Context, id int64) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, deleteMediaSQL, id)
	if execErr != nil {
		return false, fmt.Errorf("delete celebration media: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertQuoteSamples records a tick's observations in one batch.
func (s *Store) InsertQuoteSamples(ctx context.Context, samples []QuoteSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, sample := range samples {
		batch.Queue(insertQuoteSampleSQL, sample.Symbol, sample.Price.String(), sample.ObservedAt)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert quote samples: %w", err)
	}
	return nil
}

// ListQuoteSamplesBetween lists samples for symbol within [from, to).
func (s *Store) ListQuoteSamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]QuoteSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listQuoteSamplesBetweenSQL, NormalizeSymbol(symbol), from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list quote samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]QuoteSample, 0)
	for rows.Next() {
		var (
			sample   QuoteSample
			priceStr string
		)
		if err := rows.Scan(&sample.Symbol, &priceStr, &sample.ObservedAt); err != nil {
			return nil, err
		}
		sample.Price, err = decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse quote price: %w", err)
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// UpsertUser registers a user. The bool is true when the row was inserted.
func (s *Store) UpsertUser(ctx context.Context, user User) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	if err := user.Validate(); err != nil {
		return false, err
	}

	var inserted bool
	if scanErr := pool.QueryRow(ctx, upsertUserSQL,
		user.ID,
		user.Username,
		user.FirstName,
		user.LastName,
	).Scan(&inserted); scanErr != nil {
		return false, fmt.Errorf("upsert user: %w", scanErr)
	}
	return inserted, nil
}

// ListUserIDs returns every registered user id in ascending order.
func (s *Store) ListUserIDs(ctx context.Context) ([]int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listUserIDsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list users: %w", queryErr)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ids, nil
}

// CountUsers returns the number of registered users.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var count int
	if scanErr := pool.QueryRow(ctx, countUsersSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count users: %w", scanErr)
	}
	return count, nil
}

func collectAlerts(rows pgx.Rows) ([]PriceAlert, error) {
	defer rows.Close()

	alerts := make([]PriceAlert, 0)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanAlert(row pgx.Row) (PriceAlert, error) {
	var (
		rec       PriceAlert
		targetStr string
		direction string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Symbol,
		&targetStr,
		&direction,
		&rec.CreatedAt,
	); err != nil {
		return PriceAlert{}, err
	}

	target, err := decimal.NewFromString(targetStr)
	if err != nil {
		return PriceAlert{}, fmt.Errorf("parse target price: %w", err)
	}
	rec.TargetPrice = target
	rec.Direction = Direction(direction)
	return rec, nil
}

var (
	_ AlertStore       = (*Store)(nil)
	_ CelebrationStore = (*Store)(nil)
	_ QuoteSampleStore = (*Store)(nil)
	_ UserStore        = (*Store)(nil)
)
