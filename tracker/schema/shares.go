package schema

import (
	"time"

	"github.com/google/uuid"
)

// Share edges are one table per entity family. Every edge has exactly one
// owner and one recipient, owner != recipient. The Linked*Id columns may only
// reference records owned by the recipient; they are set and cleared by the
// recipient alone. ParentShareId chains a derived edge to the edge it was
// spawned from, capping its effective permission.

type GameShare struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	OwnerId     uuid.UUID `gorm:"type:uuid;not null;index"`
	RecipientId uuid.UUID `gorm:"type:uuid;not null;index"`
	GameId      uuid.UUID `gorm:"type:uuid;not null;index"`

	Permission string `gorm:"size:50;not null;default:'view'"`
	Status     string `gorm:"size:50;not null;default:'pending'"`

	LinkedGameId *uuid.UUID `gorm:"type:uuid"`

	CreatedAt time.Time
}

type ScoresheetShare struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	OwnerId      uuid.UUID `gorm:"type:uuid;not null;index"`
	RecipientId  uuid.UUID `gorm:"type:uuid;not null;index"`
	ScoresheetId uuid.UUID `gorm:"type:uuid;not null;index"`

	Permission string `gorm:"size:50;not null;default:'view'"`
	Status     string `gorm:"size:50;not null;default:'pending'"`

	LinkedScoresheetId *uuid.UUID `gorm:"type:uuid"`

	// Set when the edge was spawned from a game share.
	ParentShareId *uuid.UUID `gorm:"type:uuid;index"`

	CreatedAt time.Time
}

type RoundShare struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	OwnerId     uuid.UUID `gorm:"type:uuid;not null;index"`
	RecipientId uuid.UUID `gorm:"type:uuid;not null;index"`
	RoundId     uuid.UUID `gorm:"type:uuid;not null;index"`

	Permission string `gorm:"size:50;not null;default:'view'"`
	Status     string `gorm:"size:50;not null;default:'pending'"`

	LinkedRoundId *uuid.UUID `gorm:"type:uuid"`

	// Set when the edge was spawned from a scoresheet share.
	ParentShareId *uuid.UUID `gorm:"type:uuid;index"`

	CreatedAt time.Time
}

type MatchShare struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	OwnerId     uuid.UUID `gorm:"type:uuid;not null;index"`
	RecipientId uuid.UUID `gorm:"type:uuid;not null;index"`
	MatchId     uuid.UUID `gorm:"type:uuid;not null;index"`

	Permission string `gorm:"size:50;not null;default:'view'"`
	Status     string `gorm:"size:50;not null;default:'pending'"`

	// Accepted at creation time because the recipient already accepted a
	// share of the match's game from the same owner.
	AutoAccepted bool `gorm:"not null;default:false"`

	// Set when the edge was spawned from a game share.
	ParentShareId *uuid.UUID `gorm:"type:uuid;index"`

	CreatedAt time.Time
}

type PlayerShare struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	OwnerId     uuid.UUID `gorm:"type:uuid;not null;index"`
	RecipientId uuid.UUID `gorm:"type:uuid;not null;index"`
	PlayerId    uuid.UUID `gorm:"type:uuid;not null;index"`

	Permission string `gorm:"size:50;not null;default:'view'"`
	Status     string `gorm:"size:50;not null;default:'pending'"`

	LinkedPlayerId *uuid.UUID `gorm:"type:uuid"`

	CreatedAt time.Time
}

type GameRoleShare struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	OwnerId     uuid.UUID `gorm:"type:uuid;not null;index"`
	RecipientId uuid.UUID `gorm:"type:uuid;not null;index"`
	GameRoleId  uuid.UUID `gorm:"type:uuid;not null;index"`

	Permission string `gorm:"size:50;not null;default:'view'"`
	Status     string `gorm:"size:50;not null;default:'pending'"`

	LinkedGameRoleId *uuid.UUID `gorm:"type:uuid"`

	// Set when the edge was spawned from a game share.
	ParentShareId *uuid.UUID `gorm:"type:uuid;index"`

	CreatedAt time.Time
}

// AllTables lists every entity for migration.
func AllTables() []interface{} {
	return []interface{}{
		&User{},
		&Game{}, &Scoresheet{}, &Round{}, &Location{},
		&Match{}, &MatchTeam{}, &Player{}, &MatchPlayer{}, &RoundScore{},
		&GameRole{}, &MatchPlayerRole{},
		&GameShare{}, &ScoresheetShare{}, &RoundShare{},
		&MatchShare{}, &PlayerShare{}, &GameRoleShare{},
	}
}
