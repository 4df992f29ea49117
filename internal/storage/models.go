package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction selects which side of the target price fires an alert.
type Direction string

const (
	// DirectionAbove fires when the price rises to or past the target.
	DirectionAbove Direction = "above"
	// DirectionBelow fires when the price falls to or past the target.
	DirectionBelow Direction = "below"
)

// ParseDirection accepts "above" or "below" in any case.
func ParseDirection(v string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(v))) {
	case DirectionAbove:
		return DirectionAbove, nil
	case DirectionBelow:
		return DirectionBelow, nil
	default:
		return "", fmt.Errorf("%w: direction must be above or below, got %q", ErrInvalidInput, v)
	}
}

// NormalizeSymbol returns the canonical upper-case ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// PriceAlert is a user's standing threshold condition. Alerts are never
// updated; they are created and later deleted.
type PriceAlert struct {
	ID          int64
	UserID      int64
	Symbol      string
	TargetPrice decimal.Decimal
	Direction   Direction
	CreatedAt   time.Time
}

// Triggered reports whether price satisfies the alert. Equality fires in both
// directions.
func (a PriceAlert) Triggered(price decimal.Decimal) bool {
	switch a.Direction {
	case DirectionAbove:
		return price.GreaterThanOrEqual(a.TargetPrice)
	case DirectionBelow:
		return price.LessThanOrEqual(a.TargetPrice)
	default:
		return false
	}
}

// Validate checks the invariants enforced at creation time.
func (a PriceAlert) Validate() error {
	if a.UserID == 0 {
		return fmt.Errorf("%w: user id required", ErrInvalidInput)
	}
	if NormalizeSymbol(a.Symbol) == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidInput)
	}
	if !a.TargetPrice.IsPositive() {
		return fmt.Errorf("%w: target price must be positive", ErrInvalidInput)
	}
	if _, err := ParseDirection(string(a.Direction)); err != nil {
		return err
	}
	return nil
}

// MediaKind is the Telegram media type of a celebration item.
type MediaKind string

const (
	MediaSticker   MediaKind = "sticker"
	MediaAnimation MediaKind = "animation"
)

// ParseMediaKind accepts sticker, animation or gif (stored as animation).
func ParseMediaKind(v string) (MediaKind, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "sticker":
		return MediaSticker, nil
	case "animation", "gif":
		return MediaAnimation, nil
	default:
		return "", fmt.Errorf("%w: media kind must be sticker or animation, got %q", ErrInvalidInput, v)
	}
}

// CelebrationMedia is a sticker or animation sent on celebratory events.
type CelebrationMedia struct {
	ID       int64
	Kind     MediaKind
	FileID   string
	Category string
	Caption  string
}

// QuoteSample is one oracle observation recorded during an evaluation tick.
type QuoteSample struct {
	Symbol     string
	Price      decimal.Decimal
	ObservedAt time.Time
}

// User is a registered recipient of broadcasts. Names are optional.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	FirstSeen time.Time
}

// Validate checks the invariants enforced at registration.
func (u User) Validate() error {
	if u.ID == 0 {
		return fmt.Errorf("%w: user id required", ErrInvalidInput)
	}
	return nil
}
