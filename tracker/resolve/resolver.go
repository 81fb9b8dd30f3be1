package resolve

import (
	"errors"
	"log/slog"
	"tallyboard/tracker/schema"
	"tallyboard/utils/logging"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotVisible is the uniform result for any reference the viewer cannot
// see. Callers never learn whether the entity is deleted, unshared, or
// nonexistent.
var ErrNotVisible = errors.New("entity is not visible to viewer")

type Provenance string

const (
	Original Provenance = "original"
	Linked   Provenance = "linked"
	Shared   Provenance = "shared"
)

type Permission int // Private ordering so no other levels can be defined

const (
	NoAccess   Permission = 0
	ViewAccess Permission = 1
	EditAccess Permission = 2
)

func PermissionFromString(permission string) Permission {
	switch permission {
	case schema.ViewPerm:
		return ViewAccess
	case schema.EditPerm:
		return EditAccess
	default:
		return NoAccess
	}
}

func (p Permission) String() string {
	switch p {
	case ViewAccess:
		return schema.ViewPerm
	case EditAccess:
		return schema.EditPerm
	default:
		return "none"
	}
}

// CapPermission bounds a derived share edge's permission by its parent
// edge's permission. A child edge can carry less than its parent, never more.
func CapPermission(child, parent Permission) Permission {
	if parent < child {
		return parent
	}
	return child
}

type RefKind int

const (
	// RefOriginal references an entity by its own storage id.
	RefOriginal RefKind = iota + 1
	// RefShared references an entity through a share edge id. Edge ids are
	// viewer scoped and never merged across viewers.
	RefShared
)

type Ref struct {
	Kind RefKind
	Id   uuid.UUID
}

func OriginalRef(id uuid.UUID) Ref {
	return Ref{Kind: RefOriginal, Id: id}
}

func SharedRef(id uuid.UUID) Ref {
	return Ref{Kind: RefShared, Id: id}
}

// RoleRef carries an optional pre-resolved linked game role id. Roles on a
// linked game are matched by name upstream; the resolver only consumes the
// result of that matching.
type RoleRef struct {
	Ref
	LinkedGameRoleId *uuid.UUID
}

// Identity is the canonical representation of an entity for one viewer.
type Identity struct {
	Provenance  Provenance
	CanonicalId uuid.UUID
	Permission  Permission
}

// Resolver resolves canonical identities for a single viewer over a single
// snapshot. The txn handle must span every read of one resolution or
// aggregation call; mixing snapshots between sibling lookups can double
// count or lose rows.
type Resolver struct {
	txn    *gorm.DB
	viewer uuid.UUID
}

func New(txn *gorm.DB, viewerId uuid.UUID) *Resolver {
	return &Resolver{txn: txn, viewer: viewerId}
}

func (r *Resolver) ViewerId() uuid.UUID {
	return r.viewer
}

func (r *Resolver) ResolveGame(ref Ref) (Identity, error) {
	switch ref.Kind {
	case RefOriginal:
		var game schema.Game
		result := r.txn.Limit(1).Find(&game, "id = ? AND created_by = ?", ref.Id, r.viewer)
		if result.Error != nil {
			slog.Error("sql error resolving owned game", "game_id", ref.Id, "error", result.Error)
			return Identity{}, schema.ErrDbAccessFailed
		}
		if result.RowsAffected != 0 {
			return Identity{Provenance: Original, CanonicalId: game.Id, Permission: EditAccess}, nil
		}
		return r.resolveGameEdge("game_id = ? AND recipient_id = ? AND status = ?", ref.Id)
	case RefShared:
		return r.resolveGameEdge("id = ? AND recipient_id = ? AND status = ?", ref.Id)
	default:
		return Identity{}, ErrNotVisible
	}
}

func (r *Resolver) resolveGameEdge(query string, id uuid.UUID) (Identity, error) {
	var edge schema.GameShare
	result := r.txn.Order("id").Limit(1).Find(&edge, query, id, r.viewer, schema.ShareAccepted)
	if result.Error != nil {
		slog.Error("sql error resolving game share edge", "id", id, "error", result.Error)
		return Identity{}, schema.ErrDbAccessFailed
	}
	if result.RowsAffected == 0 {
		return Identity{}, ErrNotVisible
	}

	if !r.entityExists(&schema.Game{}, edge.GameId) {
		return Identity{}, ErrNotVisible
	}

	if edge.LinkedGameId != nil {
		if r.linkTargetValid(&schema.Game{}, *edge.LinkedGameId) {
			return Identity{Provenance: Linked, CanonicalId: *edge.LinkedGameId, Permission: EditAccess}, nil
		}
		r.logDanglingLink("game", edge.Id, *edge.LinkedGameId)
	}

	return Identity{Provenance: Shared, CanonicalId: edge.Id, Permission: PermissionFromString(edge.Permission)}, nil
}

func (r *Resolver) ResolvePlayer(ref Ref) (Identity, error) {
	switch ref.Kind {
	case RefOriginal:
		var player schema.Player
		result := r.txn.Limit(1).Find(&player, "id = ? AND created_by = ?", ref.Id, r.viewer)
		if result.Error != nil {
			slog.Error("sql error resolving owned player", "player_id", ref.Id, "error", result.Error)
			return Identity{}, schema.ErrDbAccessFailed
		}
		if result.RowsAffected != 0 {
			return Identity{Provenance: Original, CanonicalId: player.Id, Permission: EditAccess}, nil
		}
		return r.resolvePlayerEdge("player_id = ? AND recipient_id = ? AND status = ?", ref.Id)
	case RefShared:
		return r.resolvePlayerEdge("id = ? AND recipient_id = ? AND status = ?", ref.Id)
	default:
		return Identity{}, ErrNotVisible
	}
}

func (r *Resolver) resolvePlayerEdge(query string, id uuid.UUID) (Identity, error) {
	var edge schema.PlayerShare
	result := r.txn.Order("id").Limit(1).Find(&edge, query, id, r.viewer, schema.ShareAccepted)
	if result.Error != nil {
		slog.Error("sql error resolving player share edge", "id", id, "error", result.Error)
		return Identity{}, schema.ErrDbAccessFailed
	}
	if result.RowsAffected == 0 {
		return Identity{}, ErrNotVisible
	}

	if !r.entityExists(&schema.Player{}, edge.PlayerId) {
		return Identity{}, ErrNotVisible
	}

	if edge.LinkedPlayerId != nil {
		if r.linkTargetValid(&schema.Player{}, *edge.LinkedPlayerId) {
			return Identity{Provenance: Linked, CanonicalId: *edge.LinkedPlayerId, Permission: EditAccess}, nil
		}
		r.logDanglingLink("player", edge.Id, *edge.LinkedPlayerId)
	}

	return Identity{Provenance: Shared, CanonicalId: edge.Id, Permission: PermissionFromString(edge.Permission)}, nil
}

func (r *Resolver) ResolveScoresheet(ref Ref) (Identity, error) {
	switch ref.Kind {
	case RefOriginal:
		var sheet schema.Scoresheet
		result := r.txn.Limit(1).Find(&sheet, "id = ? AND created_by = ?", ref.Id, r.viewer)
		if result.Error != nil {
			slog.Error("sql error resolving owned scoresheet", "scoresheet_id", ref.Id, "error", result.Error)
			return Identity{}, schema.ErrDbAccessFailed
		}
		if result.RowsAffected != 0 {
			return Identity{Provenance: Original, CanonicalId: sheet.Id, Permission: EditAccess}, nil
		}
		return r.resolveScoresheetEdge("scoresheet_id = ? AND recipient_id = ? AND status = ?", ref.Id)
	case RefShared:
		return r.resolveScoresheetEdge("id = ? AND recipient_id = ? AND status = ?", ref.Id)
	default:
		return Identity{}, ErrNotVisible
	}
}

func (r *Resolver) resolveScoresheetEdge(query string, id uuid.UUID) (Identity, error) {
	var edge schema.ScoresheetShare
	result := r.txn.Order("id").Limit(1).Find(&edge, query, id, r.viewer, schema.ShareAccepted)
	if result.Error != nil {
		slog.Error("sql error resolving scoresheet share edge", "id", id, "error", result.Error)
		return Identity{}, schema.ErrDbAccessFailed
	}
	if result.RowsAffected == 0 {
		return Identity{}, ErrNotVisible
	}

	if !r.entityExists(&schema.Scoresheet{}, edge.ScoresheetId) {
		return Identity{}, ErrNotVisible
	}

	if edge.LinkedScoresheetId != nil {
		if r.linkTargetValid(&schema.Scoresheet{}, *edge.LinkedScoresheetId) {
			return Identity{Provenance: Linked, CanonicalId: *edge.LinkedScoresheetId, Permission: EditAccess}, nil
		}
		r.logDanglingLink("scoresheet", edge.Id, *edge.LinkedScoresheetId)
	}

	permission, err := r.scoresheetEdgePermission(edge)
	if err != nil {
		return Identity{}, err
	}

	return Identity{Provenance: Shared, CanonicalId: edge.Id, Permission: permission}, nil
}

// scoresheetEdgePermission caps a derived scoresheet edge by the permission
// of the game share it was spawned from.
func (r *Resolver) scoresheetEdgePermission(edge schema.ScoresheetShare) (Permission, error) {
	permission := PermissionFromString(edge.Permission)
	if edge.ParentShareId == nil {
		return permission, nil
	}

	var parent schema.GameShare
	result := r.txn.Limit(1).Find(&parent, "id = ?", *edge.ParentShareId)
	if result.Error != nil {
		slog.Error("sql error loading parent share of scoresheet edge", "share_id", edge.Id, "error", result.Error)
		return NoAccess, schema.ErrDbAccessFailed
	}
	if result.RowsAffected == 0 {
		// Parent edge deleted out from under the chain. Fail closed.
		slog.Warn("scoresheet share references missing parent edge", "share_id", edge.Id, "parent_id", *edge.ParentShareId)
		return NoAccess, nil
	}

	return CapPermission(permission, PermissionFromString(parent.Permission)), nil
}

func (r *Resolver) ResolveRound(ref Ref) (Identity, error) {
	switch ref.Kind {
	case RefOriginal:
		var round schema.Round
		result := r.txn.
			Joins("JOIN scoresheets ON scoresheets.id = rounds.scoresheet_id AND scoresheets.created_by = ? AND scoresheets.deleted_at IS NULL", r.viewer).
			Limit(1).Find(&round, "rounds.id = ?", ref.Id)
		if result.Error != nil {
			slog.Error("sql error resolving owned round", "round_id", ref.Id, "error", result.Error)
			return Identity{}, schema.ErrDbAccessFailed
		}
		if result.RowsAffected != 0 {
			return Identity{Provenance: Original, CanonicalId: round.Id, Permission: EditAccess}, nil
		}
		return r.resolveRoundEdge("round_id = ? AND recipient_id = ? AND status = ?", ref.Id)
	case RefShared:
		return r.resolveRoundEdge("id = ? AND recipient_id = ? AND status = ?", ref.Id)
	default:
		return Identity{}, ErrNotVisible
	}
}

func (r *Resolver) resolveRoundEdge(query string, id uuid.UUID) (Identity, error) {
	var edge schema.RoundShare
	result := r.txn.Order("id").Limit(1).Find(&edge, query, id, r.viewer, schema.ShareAccepted)
	if result.Error != nil {
		slog.Error("sql error resolving round share edge", "id", id, "error", result.Error)
		return Identity{}, schema.ErrDbAccessFailed
	}
	if result.RowsAffected == 0 {
		return Identity{}, ErrNotVisible
	}

	if !r.entityExists(&schema.Round{}, edge.RoundId) {
		return Identity{}, ErrNotVisible
	}

	if edge.LinkedRoundId != nil {
		if r.roundOwnedByViewer(*edge.LinkedRoundId) {
			return Identity{Provenance: Linked, CanonicalId: *edge.LinkedRoundId, Permission: EditAccess}, nil
		}
		r.logDanglingLink("round", edge.Id, *edge.LinkedRoundId)
	}

	permission, err := r.roundEdgePermission(edge)
	if err != nil {
		return Identity{}, err
	}

	return Identity{Provenance: Shared, CanonicalId: edge.Id, Permission: permission}, nil
}

// roundEdgePermission caps a round edge by its parent scoresheet edge, which
// is itself capped by its own parent. The cap propagates through the full
// chain depth.
func (r *Resolver) roundEdgePermission(edge schema.RoundShare) (Permission, error) {
	permission := PermissionFromString(edge.Permission)
	if edge.ParentShareId == nil {
		return permission, nil
	}

	var parent schema.ScoresheetShare
	result := r.txn.Limit(1).Find(&parent, "id = ?", *edge.ParentShareId)
	if result.Error != nil {
		slog.Error("sql error loading parent share of round edge", "share_id", edge.Id, "error", result.Error)
		return NoAccess, schema.ErrDbAccessFailed
	}
	if result.RowsAffected == 0 {
		slog.Warn("round share references missing parent edge", "share_id", edge.Id, "parent_id", *edge.ParentShareId)
		return NoAccess, nil
	}

	parentPermission, err := r.scoresheetEdgePermission(parent)
	if err != nil {
		return NoAccess, err
	}

	return CapPermission(permission, parentPermission), nil
}

func (r *Resolver) ResolveMatch(ref Ref) (Identity, error) {
	switch ref.Kind {
	case RefOriginal:
		var match schema.Match
		result := r.txn.Limit(1).Find(&match, "id = ? AND created_by = ?", ref.Id, r.viewer)
		if result.Error != nil {
			slog.Error("sql error resolving owned match", "match_id", ref.Id, "error", result.Error)
			return Identity{}, schema.ErrDbAccessFailed
		}
		if result.RowsAffected != 0 {
			return Identity{Provenance: Original, CanonicalId: match.Id, Permission: EditAccess}, nil
		}
		return r.resolveMatchEdge("match_id = ? AND recipient_id = ? AND status = ?", ref.Id)
	case RefShared:
		return r.resolveMatchEdge("id = ? AND recipient_id = ? AND status = ?", ref.Id)
	default:
		return Identity{}, ErrNotVisible
	}
}

func (r *Resolver) resolveMatchEdge(query string, id uuid.UUID) (Identity, error) {
	var edge schema.MatchShare
	result := r.txn.Order("id").Limit(1).Find(&edge, query, id, r.viewer, schema.ShareAccepted)
	if result.Error != nil {
		slog.Error("sql error resolving match share edge", "id", id, "error", result.Error)
		return Identity{}, schema.ErrDbAccessFailed
	}
	if result.RowsAffected == 0 {
		return Identity{}, ErrNotVisible
	}

	if !r.entityExists(&schema.Match{}, edge.MatchId) {
		return Identity{}, ErrNotVisible
	}

	permission, err := r.matchEdgePermission(edge)
	if err != nil {
		return Identity{}, err
	}

	return Identity{Provenance: Shared, CanonicalId: edge.Id, Permission: permission}, nil
}

func (r *Resolver) matchEdgePermission(edge schema.MatchShare) (Permission, error) {
	permission := PermissionFromString(edge.Permission)
	if edge.ParentShareId == nil {
		return permission, nil
	}

	var parent schema.GameShare
	result := r.txn.Limit(1).Find(&parent, "id = ?", *edge.ParentShareId)
	if result.Error != nil {
		slog.Error("sql error loading parent share of match edge", "share_id", edge.Id, "error", result.Error)
		return NoAccess, schema.ErrDbAccessFailed
	}
	if result.RowsAffected == 0 {
		slog.Warn("match share references missing parent edge", "share_id", edge.Id, "parent_id", *edge.ParentShareId)
		return NoAccess, nil
	}

	return CapPermission(permission, PermissionFromString(parent.Permission)), nil
}

func (r *Resolver) ResolveRole(ref RoleRef) (Identity, error) {
	// A role on a linked game is linked at the id of the role it mirrors.
	// The name matching happens upstream; a pre-resolved id short-circuits
	// the edge lookup entirely.
	if ref.LinkedGameRoleId != nil {
		if r.linkTargetValid(&schema.GameRole{}, *ref.LinkedGameRoleId) {
			return Identity{Provenance: Linked, CanonicalId: *ref.LinkedGameRoleId, Permission: EditAccess}, nil
		}
		r.logDanglingLink("game_role", ref.Id, *ref.LinkedGameRoleId)
	}

	switch ref.Kind {
	case RefOriginal:
		var role schema.GameRole
		result := r.txn.Limit(1).Find(&role, "id = ? AND created_by = ?", ref.Id, r.viewer)
		if result.Error != nil {
			slog.Error("sql error resolving owned game role", "role_id", ref.Id, "error", result.Error)
			return Identity{}, schema.ErrDbAccessFailed
		}
		if result.RowsAffected != 0 {
			return Identity{Provenance: Original, CanonicalId: role.Id, Permission: EditAccess}, nil
		}
		return r.resolveRoleEdge("game_role_id = ? AND recipient_id = ? AND status = ?", ref.Id)
	case RefShared:
		return r.resolveRoleEdge("id = ? AND recipient_id = ? AND status = ?", ref.Id)
	default:
		return Identity{}, ErrNotVisible
	}
}

func (r *Resolver) resolveRoleEdge(query string, id uuid.UUID) (Identity, error) {
	var edge schema.GameRoleShare
	result := r.txn.Order("id").Limit(1).Find(&edge, query, id, r.viewer, schema.ShareAccepted)
	if result.Error != nil {
		slog.Error("sql error resolving game role share edge", "id", id, "error", result.Error)
		return Identity{}, schema.ErrDbAccessFailed
	}
	if result.RowsAffected == 0 {
		return Identity{}, ErrNotVisible
	}

	if !r.entityExists(&schema.GameRole{}, edge.GameRoleId) {
		return Identity{}, ErrNotVisible
	}

	if edge.LinkedGameRoleId != nil {
		if r.linkTargetValid(&schema.GameRole{}, *edge.LinkedGameRoleId) {
			return Identity{Provenance: Linked, CanonicalId: *edge.LinkedGameRoleId, Permission: EditAccess}, nil
		}
		r.logDanglingLink("game_role", edge.Id, *edge.LinkedGameRoleId)
	}

	permission, err := r.roleEdgePermission(edge)
	if err != nil {
		return Identity{}, err
	}

	return Identity{Provenance: Shared, CanonicalId: edge.Id, Permission: permission}, nil
}

func (r *Resolver) roleEdgePermission(edge schema.GameRoleShare) (Permission, error) {
	permission := PermissionFromString(edge.Permission)
	if edge.ParentShareId == nil {
		return permission, nil
	}

	var parent schema.GameShare
	result := r.txn.Limit(1).Find(&parent, "id = ?", *edge.ParentShareId)
	if result.Error != nil {
		slog.Error("sql error loading parent share of role edge", "share_id", edge.Id, "error", result.Error)
		return NoAccess, schema.ErrDbAccessFailed
	}
	if result.RowsAffected == 0 {
		slog.Warn("role share references missing parent edge", "share_id", edge.Id, "parent_id", *edge.ParentShareId)
		return NoAccess, nil
	}

	return CapPermission(permission, PermissionFromString(parent.Permission)), nil
}

// entityExists reports whether the entity row is present and not soft
// deleted. Soft deleted rows are filtered by gorm automatically.
func (r *Resolver) entityExists(model interface{}, id uuid.UUID) bool {
	var count int64
	result := r.txn.Model(model).Where("id = ?", id).Count(&count)
	if result.Error != nil {
		slog.Error("sql error checking entity existence", "id", id, "error", result.Error)
		return false
	}
	return count > 0
}

// Rounds carry no owner column; ownership flows through the scoresheet.
func (r *Resolver) roundOwnedByViewer(roundId uuid.UUID) bool {
	var count int64
	result := r.txn.Model(&schema.Round{}).
		Joins("JOIN scoresheets ON scoresheets.id = rounds.scoresheet_id AND scoresheets.created_by = ? AND scoresheets.deleted_at IS NULL", r.viewer).
		Where("rounds.id = ?", roundId).
		Count(&count)
	if result.Error != nil {
		slog.Error("sql error checking round ownership", "round_id", roundId, "error", result.Error)
		return false
	}
	return count > 0
}

// linkTargetValid reports whether a linked target exists, is not soft
// deleted, and is owned by the viewer. Links may only reference entities the
// recipient owns.
func (r *Resolver) linkTargetValid(model interface{}, id uuid.UUID) bool {
	var count int64
	result := r.txn.Model(model).Where("id = ? AND created_by = ?", id, r.viewer).Count(&count)
	if result.Error != nil {
		slog.Error("sql error checking link target", "id", id, "error", result.Error)
		return false
	}
	return count > 0
}

// A dangling link means the owner deleted the target out from under the
// recipient's link. Resolution falls back to the unlinked share path.
func (r *Resolver) logDanglingLink(family string, edgeId, targetId uuid.UUID) {
	slog.Warn("share link references missing or foreign target, treating as unlinked",
		"code", logging.RESOLVE_ANOMALY, "family", family, "share_id", edgeId, "target_id", targetId)
}
