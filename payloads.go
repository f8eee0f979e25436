package hudbus

import "fmt"

// Vec3 is a world-space position or direction.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// EntityRef identifies a game entity in combat and progress payloads.
type EntityRef struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	DisplayName string `json:"displayName"`
	Position    Vec3   `json:"position"`
}

// StateChange is emitted when a tracked value moves (health, ammo, armor).
type StateChange struct {
	Value    float64 `json:"value"`
	Previous float64 `json:"previous"`
	Delta    float64 `json:"delta"`
	Max      float64 `json:"max"`
	Source   string  `json:"source,omitempty"`
}

// NewStateChange fills Delta from value and previous.
func NewStateChange(value, previous, max float64, source string) StateChange {
	return StateChange{
		Value:    value,
		Previous: previous,
		Delta:    value - previous,
		Max:      max,
		Source:   source,
	}
}

// Combat describes a hit, kill or other interaction between two entities.
type Combat struct {
	Source     EntityRef `json:"source"`
	Target     EntityRef `json:"target"`
	Amount     float64   `json:"amount"`
	IsCritical bool      `json:"isCritical"`
	IsHeadshot bool      `json:"isHeadshot"`
	Direction  Vec3      `json:"direction"`
}

// Notification categories.
const (
	CategoryInfo    = "info"
	CategoryWarning = "warning"
	CategoryError   = "error"
	CategorySuccess = "success"
)

// Notification is a transient message for the player.
type Notification struct {
	Message    string  `json:"message"`
	Category   string  `json:"category"`
	DurationMs float64 `json:"durationMs"`
	Priority   int     `json:"priority"`
	ID         string  `json:"id,omitempty"`
}

// LevelInfo carries level progression details.
type LevelInfo struct {
	Level        int     `json:"level"`
	Current      float64 `json:"current"`
	NextLevelAt  float64 `json:"nextLevelAt"`
	LeveledUp    bool    `json:"leveledUp"`
	PreviousRank string  `json:"previousRank,omitempty"`
}

// Progress reports experience or objective progress.
type Progress struct {
	Amount    float64    `json:"amount"`
	Source    string     `json:"source,omitempty"`
	Total     float64    `json:"total"`
	LevelInfo *LevelInfo `json:"levelInfo,omitempty"`
}

// Common event names used by the HUD.
const (
	HealthChanged      = "health:changed"
	ArmorChanged       = "armor:changed"
	AmmoChanged        = "ammo:changed"
	DamageTaken        = "damage:taken"
	HitRegistered      = "hit:registered"
	KillConfirmed      = "kill:confirmed"
	NotificationPosted = "notification:posted"
	ExperienceGained   = "experience:gained"
)

// On subscribes a handler typed over one payload struct. Fields are decoded
// with the bus codec; a decode failure counts as a handler fault.
func On[T any](b *Bus, eventName string, fn func(v T, p Payload) error) (Subscription, error) {
	if fn == nil {
		return Subscription{}, ErrNilHandler
	}
	codec := b.codec
	return b.subscribe(eventName, func(p Payload) error {
		v, err := DecodeCodec[T](codec, p)
		if err != nil {
			return fmt.Errorf("hudbus: decode %s: %w", p.Type, err)
		}
		return fn(v, p)
	}, funcName(fn))
}
