package schema

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Permission levels carried by share edges.
const (
	ViewPerm = "view"
	EditPerm = "edit"
)

// Share edge lifecycle.
const (
	SharePending  = "pending"
	ShareAccepted = "accepted"
	ShareDeclined = "declined"
	ShareRevoked  = "revoked"
)

// Win conditions for scoresheets.
const (
	WinHighestScore = "highest"
	WinLowestScore  = "lowest"
	WinTargetScore  = "target"
	WinManual       = "manual"
	WinNoWinner     = "none"
)

// Rounds scoring modes.
const (
	ScoringAggregate = "aggregate"
	ScoringManual    = "manual"
	ScoringBest      = "best"
	ScoringWorst     = "worst"
)

// Round types.
const (
	RoundNumeric  = "numeric"
	RoundCheckbox = "checkbox"
)

// Match finish states.
const (
	MatchRunning              = "running"
	MatchPaused               = "paused"
	MatchFinishing            = "finishing"
	MatchAwaitingManualWinner = "awaiting_manual_winner"
	MatchAwaitingTieBreak     = "awaiting_tie_break"
	MatchFinished             = "finished"
)

type User struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Username string `gorm:"unique;size:50;not null"`
	Email    string `gorm:"unique;size:254;not null"`
	Password []byte

	IsAdmin bool `gorm:"not null;default:false"`
}

type Game struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name string `gorm:"size:200;not null"`

	MinPlayers    *int
	MaxPlayers    *int
	MinPlaytime   *int
	MaxPlaytime   *int
	YearPublished *int

	ImagePath string `gorm:"size:500"`

	CreatedBy uuid.UUID `gorm:"type:uuid;not null;index"`
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`

	Scoresheets []Scoresheet `gorm:"constraint:OnDelete:CASCADE"`
	Roles       []GameRole   `gorm:"constraint:OnDelete:CASCADE"`
}

type Scoresheet struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	GameId uuid.UUID `gorm:"type:uuid;not null;index"`

	Name          string `gorm:"size:200;not null"`
	WinCondition  string `gorm:"size:50;not null;default:'highest'"`
	RoundsScoring string `gorm:"size:50;not null;default:'aggregate'"`
	TargetScore   float64
	IsCoop        bool `gorm:"not null;default:false"`

	// ParentId tracks template-fork lineage, ForkedForMatchId marks the
	// per-match snapshot. A scoresheet has at most one of the two roles.
	ParentId         *uuid.UUID `gorm:"type:uuid;index"`
	ForkedForMatchId *uuid.UUID `gorm:"type:uuid;index"`

	CreatedBy uuid.UUID `gorm:"type:uuid;not null;index"`
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`

	Rounds []Round `gorm:"constraint:OnDelete:CASCADE"`
}

type Round struct {
	Id           uuid.UUID `gorm:"type:uuid;primaryKey"`
	ScoresheetId uuid.UUID `gorm:"type:uuid;not null;index"`

	Name  string `gorm:"size:200;not null"`
	Type  string `gorm:"size:50;not null;default:'numeric'"`
	Order int    `gorm:"column:round_order;not null"`
	Color string `gorm:"size:50"`

	ScoreModifier float64
	LookupValue   float64
	DefaultScore  float64

	ParentId *uuid.UUID `gorm:"type:uuid;index"`

	DeletedAt gorm.DeletedAt `gorm:"index"`
}

type Location struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name string `gorm:"size:200;not null"`

	CreatedBy uuid.UUID      `gorm:"type:uuid;not null;index"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

type Match struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name string    `gorm:"size:200;not null"`
	Date time.Time `gorm:"not null"`

	GameId       uuid.UUID  `gorm:"type:uuid;not null;index"`
	ScoresheetId uuid.UUID  `gorm:"type:uuid;not null"`
	LocationId   *uuid.UUID `gorm:"type:uuid"`

	Duration      int `gorm:"not null;default:0"`
	Running       bool
	LastResumedAt *time.Time
	FinishState   string `gorm:"size:50;not null;default:'running'"`
	Finished      bool   `gorm:"not null;default:false"`
	Comment       string

	CreatedBy uuid.UUID `gorm:"type:uuid;not null;index"`
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`

	Players []MatchPlayer `gorm:"constraint:OnDelete:CASCADE"`
	Teams   []MatchTeam   `gorm:"constraint:OnDelete:CASCADE"`
}

type MatchTeam struct {
	Id      uuid.UUID `gorm:"type:uuid;primaryKey"`
	MatchId uuid.UUID `gorm:"type:uuid;not null;index"`

	Name string `gorm:"size:200;not null"`
}

type Player struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name   string `gorm:"size:200;not null"`
	IsUser bool   `gorm:"not null;default:false"`

	ImagePath string `gorm:"size:500"`

	CreatedBy uuid.UUID `gorm:"type:uuid;not null;index"`
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

type MatchPlayer struct {
	Id      uuid.UUID `gorm:"type:uuid;primaryKey"`
	MatchId uuid.UUID `gorm:"type:uuid;not null;index"`

	// PlayerId always references the owner-side player record. Viewer scoped
	// identities are assigned by the resolver, never stored.
	PlayerId uuid.UUID `gorm:"type:uuid;not null;index"`

	Score     *float64
	Placement *int
	Winner    bool `gorm:"not null;default:false"`

	TeamId *uuid.UUID `gorm:"type:uuid"`
	Order  int        `gorm:"column:player_order;not null;default:0"`

	Details string
}

type RoundScore struct {
	Id            uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoundId       uuid.UUID `gorm:"type:uuid;not null;index"`
	MatchPlayerId uuid.UUID `gorm:"type:uuid;not null;index"`

	Score *float64
}

type GameRole struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	GameId uuid.UUID `gorm:"type:uuid;not null;index"`

	Name        string `gorm:"size:200;not null"`
	Description string

	CreatedBy uuid.UUID      `gorm:"type:uuid;not null;index"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

type MatchPlayerRole struct {
	MatchPlayerId uuid.UUID `gorm:"type:uuid;primaryKey"`
	GameRoleId    uuid.UUID `gorm:"type:uuid;primaryKey"`
}
