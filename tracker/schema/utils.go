package schema

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrGameNotFound       = errors.New("game not found")
	ErrMatchNotFound      = errors.New("match not found")
	ErrPlayerNotFound     = errors.New("player not found")
	ErrScoresheetNotFound = errors.New("scoresheet not found")
	ErrRoundNotFound      = errors.New("round not found")
	ErrRoleNotFound       = errors.New("game role not found")
	ErrShareNotFound      = errors.New("share not found")
	ErrDbAccessFailed     = errors.New("db access failed")
)

func GetUser(userId uuid.UUID, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user", "user_id", userId, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetGame(gameId uuid.UUID, db *gorm.DB, loadScoresheets, loadRoles bool) (Game, error) {
	var game Game

	query := db
	if loadScoresheets {
		query = query.Preload("Scoresheets").Preload("Scoresheets.Rounds")
	}
	if loadRoles {
		query = query.Preload("Roles")
	}

	result := query.First(&game, "id = ?", gameId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return game, ErrGameNotFound
		}
		slog.Error("sql error in get game", "game_id", gameId, "error", result.Error)
		return game, ErrDbAccessFailed
	}

	return game, nil
}

func GetMatch(matchId uuid.UUID, db *gorm.DB, loadPlayers bool) (Match, error) {
	var match Match

	query := db
	if loadPlayers {
		query = query.Preload("Players", func(db *gorm.DB) *gorm.DB {
			return db.Order("player_order ASC")
		}).Preload("Teams")
	}

	result := query.First(&match, "id = ?", matchId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return match, ErrMatchNotFound
		}
		slog.Error("sql error in get match", "match_id", matchId, "error", result.Error)
		return match, ErrDbAccessFailed
	}

	return match, nil
}

func GetPlayer(playerId uuid.UUID, db *gorm.DB) (Player, error) {
	var player Player

	result := db.First(&player, "id = ?", playerId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return player, ErrPlayerNotFound
		}
		slog.Error("sql error in get player", "player_id", playerId, "error", result.Error)
		return player, ErrDbAccessFailed
	}

	return player, nil
}

func GetScoresheet(scoresheetId uuid.UUID, db *gorm.DB, loadRounds bool) (Scoresheet, error) {
	var sheet Scoresheet

	query := db
	if loadRounds {
		query = query.Preload("Rounds", func(db *gorm.DB) *gorm.DB {
			return db.Order("round_order ASC")
		})
	}

	result := query.First(&sheet, "id = ?", scoresheetId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return sheet, ErrScoresheetNotFound
		}
		slog.Error("sql error in get scoresheet", "scoresheet_id", scoresheetId, "error", result.Error)
		return sheet, ErrDbAccessFailed
	}

	return sheet, nil
}

func GetRound(roundId uuid.UUID, db *gorm.DB) (Round, error) {
	var round Round

	result := db.First(&round, "id = ?", roundId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return round, ErrRoundNotFound
		}
		slog.Error("sql error in get round", "round_id", roundId, "error", result.Error)
		return round, ErrDbAccessFailed
	}

	return round, nil
}

func GetGameRole(roleId uuid.UUID, db *gorm.DB) (GameRole, error) {
	var role GameRole

	result := db.First(&role, "id = ?", roleId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return role, ErrRoleNotFound
		}
		slog.Error("sql error in get game role", "role_id", roleId, "error", result.Error)
		return role, ErrDbAccessFailed
	}

	return role, nil
}

// GetUserPlayer returns the player flagged is_user for the given user, the
// identity the user tracks themselves under.
func GetUserPlayer(userId uuid.UUID, db *gorm.DB) (Player, error) {
	var player Player

	result := db.First(&player, "created_by = ? AND is_user = ?", userId, true)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return player, ErrPlayerNotFound
		}
		slog.Error("sql error in get user player", "user_id", userId, "error", result.Error)
		return player, ErrDbAccessFailed
	}

	return player, nil
}

// CheckValidPermission verifies a share permission string.
func CheckValidPermission(permission string) bool {
	return permission == ViewPerm || permission == EditPerm
}

// CheckValidWinCondition verifies a scoresheet win condition string.
func CheckValidWinCondition(winCondition string) bool {
	switch winCondition {
	case WinHighestScore, WinLowestScore, WinTargetScore, WinManual, WinNoWinner:
		return true
	}
	return false
}
