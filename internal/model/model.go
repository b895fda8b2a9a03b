package model

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies a raw play event.
type EventKind string

const (
	EventDialogue    EventKind = "dialogue"
	EventAction      EventKind = "action"
	EventObservation EventKind = "observation"
)

// Valid reports whether the kind is one of the known event kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventDialogue, EventAction, EventObservation:
		return true
	}
	return false
}

// ImpactLevel grades how much a canonical fact changes the world.
type ImpactLevel string

const (
	ImpactMinor         ImpactLevel = "minor"
	ImpactMajor         ImpactLevel = "major"
	ImpactWorldChanging ImpactLevel = "world_changing"
)

// IsRisky reports whether a promotion at this impact level defaults to
// requiring a snapshot when the safeguard cannot be consulted.
func (l ImpactLevel) IsRisky() bool {
	return l == ImpactMajor || l == ImpactWorldChanging
}

// SnapshotKind records why a snapshot was taken.
type SnapshotKind string

const (
	SnapshotPrePromotion SnapshotKind = "pre_promotion"
	SnapshotManual       SnapshotKind = "manual"
)

// RiskLevel is the safeguard's classification of a proposed promotion.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
)

// SessionMemory is one raw play event, short-lived. Created by event capture,
// consumed (Processed=true) by episode condensation, deleted on expiry.
type SessionMemory struct {
	ID           uuid.UUID  `json:"id"                   gorm:"primaryKey;type:uuid"`
	SessionID    string     `json:"sessionId"            gorm:"not null;index"`
	ActorID      string     `json:"actorId"              gorm:"not null"`
	Kind         EventKind  `json:"kind"                 gorm:"not null"`
	Content      string     `json:"content"              gorm:"not null"`
	Participants []string   `json:"participants"         gorm:"serializer:json"`
	LocationID   *string    `json:"locationId,omitempty"`
	Importance   float64    `json:"importance"           gorm:"not null"`
	Valence      float64    `json:"valence"              gorm:"not null"`
	Tags         []string   `json:"tags"                 gorm:"serializer:json"`
	Processed    bool       `json:"processed"            gorm:"not null;index"`
	CreatedAt    time.Time  `json:"createdAt"            gorm:"not null"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

func (SessionMemory) TableName() string { return "session_memories" }

// EpisodeMemory is one condensed narrative unit covering a batch of session
// events. PromotedToWorld is write-once: it flips false to true exactly once,
// inside the same transaction that inserts the world memory row.
type EpisodeMemory struct {
	ID                 uuid.UUID         `json:"id"                 gorm:"primaryKey;type:uuid"`
	SessionID          string            `json:"sessionId"          gorm:"not null;index"`
	Title              string            `json:"title"              gorm:"not null"`
	Summary            string            `json:"summary"            gorm:"not null"`
	Narrative          string            `json:"narrative"          gorm:"not null"`
	KeyMoments         []string          `json:"keyMoments"         gorm:"serializer:json"`
	RelationshipDeltas map[string]string `json:"relationshipDeltas" gorm:"serializer:json"`
	Themes             []string          `json:"themes"             gorm:"serializer:json"`
	Cliffhangers       []string          `json:"cliffhangers"       gorm:"serializer:json"`
	ParticipantIDs     []string          `json:"participantIds"     gorm:"serializer:json"`
	LocationIDs        []string          `json:"locationIds"        gorm:"serializer:json"`
	Importance         float64           `json:"importance"         gorm:"not null"`
	PromotedToWorld    bool              `json:"promotedToWorld"    gorm:"not null;index"`
	CreatedAt          time.Time         `json:"createdAt"          gorm:"not null"`
	ExpiresAt          *time.Time        `json:"expiresAt,omitempty"`
}

func (EpisodeMemory) TableName() string { return "episode_memories" }

// WorldMemory is a canonical, durable narrative fact. Rows are created only by
// promotion or world seeding and are never edited in place; rollback happens
// through snapshots, not updates.
type WorldMemory struct {
	ID                    uuid.UUID           `json:"id"                    gorm:"primaryKey;type:uuid"`
	Category              string              `json:"category"              gorm:"not null;index"`
	Title                 string              `json:"title"                 gorm:"not null"`
	Description           string              `json:"description"           gorm:"not null"`
	Narrative             string              `json:"narrative"             gorm:"not null"`
	RelatedEntities       map[string][]string `json:"relatedEntities"       gorm:"serializer:json"`
	SourceEpisodeIDs      []string            `json:"sourceEpisodeIds"      gorm:"serializer:json"`
	Consequences          []string            `json:"consequences"          gorm:"serializer:json"`
	Tags                  []string            `json:"tags"                  gorm:"serializer:json"`
	Impact                ImpactLevel         `json:"impact"                gorm:"not null"`
	Public                bool                `json:"public"                gorm:"not null"`
	DiscoveryRequirements []string            `json:"discoveryRequirements" gorm:"serializer:json"`
	CreatedAt             time.Time           `json:"createdAt"             gorm:"not null"`
}

func (WorldMemory) TableName() string { return "world_memories" }

// MemorySnapshot is a full serialized copy of the world memory set at a point
// in time. WorldState holds the JSON-encoded []WorldMemory captured verbatim;
// restoring is a set operation, not a diff replay.
type MemorySnapshot struct {
	ID            uuid.UUID    `json:"id"                      gorm:"primaryKey;type:uuid"`
	Kind          SnapshotKind `json:"kind"                    gorm:"not null"`
	Reason        string       `json:"reason"                  gorm:"not null"`
	WorldMemoryID *uuid.UUID   `json:"worldMemoryId,omitempty" gorm:"type:uuid"`
	EpisodeID     *uuid.UUID   `json:"episodeId,omitempty"     gorm:"type:uuid;index"`
	WorldState    []byte       `json:"-"                       gorm:"not null"`
	MemoryCount   int          `json:"memoryCount"             gorm:"not null"`
	CanUnwind     bool         `json:"canUnwind"               gorm:"not null"`
	UnwoundAt     *time.Time   `json:"unwoundAt,omitempty"`
	UnwoundBy     *string      `json:"unwoundBy,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"               gorm:"not null"`
}

func (MemorySnapshot) TableName() string { return "memory_snapshots" }

// MemorySettings is the singleton row of tunable lifecycle thresholds.
// Read by every component, mutated only through the settings update operation.
type MemorySettings struct {
	ID                    int16     `json:"-"                     gorm:"primaryKey"`
	SessionTTLHours       int       `json:"sessionTtlHours"       gorm:"not null"`
	EpisodeTTLHours       int       `json:"episodeTtlHours"       gorm:"not null"`
	SnapshotRetentionDays int       `json:"snapshotRetentionDays" gorm:"not null"`
	AutoCleanup           bool      `json:"autoCleanup"           gorm:"not null"`
	UpdatedAt             time.Time `json:"updatedAt"             gorm:"not null"`
}

func (MemorySettings) TableName() string { return "memory_settings" }

// SettingsSingletonID is the primary key of the only memory_settings row.
const SettingsSingletonID int16 = 1

// DefaultSettings returns the settings used until an operator updates them.
func DefaultSettings() MemorySettings {
	return MemorySettings{
		ID:                    SettingsSingletonID,
		SessionTTLHours:       72,
		EpisodeTTLHours:       24 * 30,
		SnapshotRetentionDays: 90,
		AutoCleanup:           true,
		UpdatedAt:             time.Now(),
	}
}
