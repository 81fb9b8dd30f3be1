package resolve

import (
	"bytes"
	"errors"
	"log/slog"
	"sort"
	"tallyboard/tracker/schema"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Scope narrows the canonical stream by game and by finished state.
type Scope struct {
	Game         *Ref
	FinishedOnly bool
}

// MatchPlayerRow is one deduplicated row of the canonical stream: exactly one
// row per (canonical match, canonical player) pair for the viewer. Rows
// tagged NotShared carry the raw player id for listing purposes and are
// excluded from every statistic.
type MatchPlayerRow struct {
	MatchId   uuid.UUID
	MatchDate time.Time
	Duration  int

	WinCondition        string
	IsCoop              bool
	ScoresheetLineageId uuid.UUID

	PlayerId         uuid.UUID
	PlayerProvenance Provenance
	NotShared        bool

	TeamId    *uuid.UUID
	Score     *float64
	Placement *int
	Winner    bool

	// Distinct canonical players in the match, not raw row count.
	PlayerCount int

	// Storage id of the raw match player row, used only as the
	// deterministic tie break during representative selection.
	RawRowId uuid.UUID
}

// BuildMatchPlayerStream produces the substrate all statistics run on. All
// reads go through the one txn snapshot; see Resolver.
func BuildMatchPlayerStream(txn *gorm.DB, viewerId uuid.UUID, scope Scope) ([]MatchPlayerRow, error) {
	r := New(txn, viewerId)

	matches, err := r.visibleMatches(scope)
	if err != nil {
		return nil, err
	}

	rows := make([]MatchPlayerRow, 0)
	for _, vm := range matches {
		matchRows, err := r.matchRows(vm)
		if err != nil {
			return nil, err
		}
		rows = append(rows, matchRows...)
	}

	return rows, nil
}

type visibleMatch struct {
	match       schema.Match
	canonicalId uuid.UUID
}

// visibleMatches gathers owned matches and accepted match shares, filtered
// by scope. When the scope game is linked, matches of the remote game and
// matches of the local linked game both belong to the same history.
func (r *Resolver) visibleMatches(scope Scope) ([]visibleMatch, error) {
	gameIds, err := r.scopeGameIds(scope)
	if err != nil {
		return nil, err
	}

	ownedQuery := r.txn.Where("created_by = ?", r.viewer)
	if gameIds != nil {
		ownedQuery = ownedQuery.Where("game_id IN ?", gameIds)
	}
	if scope.FinishedOnly {
		ownedQuery = ownedQuery.Where("finished = ?", true)
	}

	var owned []schema.Match
	result := ownedQuery.Find(&owned)
	if result.Error != nil {
		slog.Error("sql error listing owned matches", "viewer_id", r.viewer, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}

	visible := make([]visibleMatch, 0, len(owned))
	seen := make(map[uuid.UUID]bool, len(owned))
	for _, match := range owned {
		visible = append(visible, visibleMatch{match: match, canonicalId: match.Id})
		seen[match.Id] = true
	}

	// Edges are walked in id order and deduped by underlying match so that a
	// match reachable through several accepted edges still contributes
	// exactly one history entry, under one stable canonical id.
	var edges []schema.MatchShare
	result = r.txn.Order("id").Find(&edges, "recipient_id = ? AND status = ?", r.viewer, schema.ShareAccepted)
	if result.Error != nil {
		slog.Error("sql error listing match shares", "viewer_id", r.viewer, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}

	for _, edge := range edges {
		if seen[edge.MatchId] {
			continue
		}
		var match schema.Match
		result := r.txn.Limit(1).Find(&match, "id = ?", edge.MatchId)
		if result.Error != nil {
			slog.Error("sql error loading shared match", "match_id", edge.MatchId, "error", result.Error)
			return nil, schema.ErrDbAccessFailed
		}
		if result.RowsAffected == 0 {
			continue // owner deleted the match, edge remains
		}
		if gameIds != nil && !containsId(gameIds, match.GameId) {
			continue
		}
		if scope.FinishedOnly && !match.Finished {
			continue
		}
		visible = append(visible, visibleMatch{match: match, canonicalId: edge.Id})
		seen[edge.MatchId] = true
	}

	return visible, nil
}

// scopeGameIds expands a game scope into the set of storage-level game ids
// whose matches belong to the scoped history. nil means no game filter.
func (r *Resolver) scopeGameIds(scope Scope) ([]uuid.UUID, error) {
	if scope.Game == nil {
		return nil, nil
	}

	identity, err := r.ResolveGame(*scope.Game)
	if err != nil {
		if errors.Is(err, ErrNotVisible) {
			return []uuid.UUID{}, nil
		}
		return nil, err
	}

	switch identity.Provenance {
	case Original, Linked:
		// The viewer's own game, plus every remote game the viewer linked
		// back to it. Matches recorded under any of them share one history.
		ids := []uuid.UUID{identity.CanonicalId}

		var edges []schema.GameShare
		result := r.txn.Find(&edges,
			"recipient_id = ? AND status = ? AND linked_game_id = ?",
			r.viewer, schema.ShareAccepted, identity.CanonicalId)
		if result.Error != nil {
			slog.Error("sql error expanding linked game scope", "game_id", identity.CanonicalId, "error", result.Error)
			return nil, schema.ErrDbAccessFailed
		}
		for _, edge := range edges {
			ids = append(ids, edge.GameId)
		}
		return ids, nil
	default:
		// Unlinked share: scope is the owner's game alone.
		var edge schema.GameShare
		result := r.txn.Limit(1).Find(&edge, "id = ?", identity.CanonicalId)
		if result.Error != nil {
			slog.Error("sql error loading game share for scope", "share_id", identity.CanonicalId, "error", result.Error)
			return nil, schema.ErrDbAccessFailed
		}
		if result.RowsAffected == 0 {
			return []uuid.UUID{}, nil
		}
		return []uuid.UUID{edge.GameId}, nil
	}
}

func (r *Resolver) matchRows(vm visibleMatch) ([]MatchPlayerRow, error) {
	var sheet schema.Scoresheet
	result := r.txn.Limit(1).Find(&sheet, "id = ?", vm.match.ScoresheetId)
	if result.Error != nil {
		slog.Error("sql error loading match scoresheet", "match_id", vm.match.Id, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}

	var players []schema.MatchPlayer
	result = r.txn.Order("player_order ASC").Find(&players, "match_id = ?", vm.match.Id)
	if result.Error != nil {
		slog.Error("sql error loading match players", "match_id", vm.match.Id, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}

	lineage := r.ScoresheetLineage(sheet.Id)

	rows := make([]MatchPlayerRow, 0, len(players))
	for _, mp := range players {
		row := MatchPlayerRow{
			MatchId:             vm.canonicalId,
			MatchDate:           vm.match.Date,
			Duration:            vm.match.Duration,
			WinCondition:        sheet.WinCondition,
			IsCoop:              sheet.IsCoop,
			ScoresheetLineageId: lineage,
			TeamId:              mp.TeamId,
			Score:               mp.Score,
			Placement:           mp.Placement,
			Winner:              mp.Winner,
			RawRowId:            mp.Id,
		}

		identity, err := r.ResolvePlayer(OriginalRef(mp.PlayerId))
		if err != nil {
			if !errors.Is(err, ErrNotVisible) {
				return nil, err
			}
			// Retained for match listings so the roster does not shrink,
			// excluded from all statistics.
			row.PlayerId = mp.PlayerId
			row.NotShared = true
		} else {
			row.PlayerId = identity.CanonicalId
			row.PlayerProvenance = identity.Provenance
		}

		rows = append(rows, row)
	}

	rows = DedupRows(rows)

	count := distinctCanonicalPlayers(rows)
	for i := range rows {
		rows[i].PlayerCount = count
	}

	return rows, nil
}

// DedupRows keeps exactly one representative per (canonical match, canonical
// player) pair. A pair can hold multiple raw rows when a player is reachable
// through both an owner-side and a shared-side path before resolution
// collapses them. Representative preference: Original or Linked provenance
// over Shared, then lowest raw row id. NotShared rows are never merged.
func DedupRows(rows []MatchPlayerRow) []MatchPlayerRow {
	type pairKey struct {
		matchId  uuid.UUID
		playerId uuid.UUID
	}

	chosen := map[pairKey]int{}
	out := make([]MatchPlayerRow, 0, len(rows))

	for _, row := range rows {
		if row.NotShared {
			out = append(out, row)
			continue
		}

		key := pairKey{matchId: row.MatchId, playerId: row.PlayerId}
		idx, ok := chosen[key]
		if !ok {
			chosen[key] = len(out)
			out = append(out, row)
			continue
		}

		if preferRow(row, out[idx]) {
			out[idx] = row
		}
	}

	return out
}

func preferRow(candidate, current MatchPlayerRow) bool {
	candidateOwn := candidate.PlayerProvenance != Shared
	currentOwn := current.PlayerProvenance != Shared
	if candidateOwn != currentOwn {
		return candidateOwn
	}
	return bytes.Compare(candidate.RawRowId[:], current.RawRowId[:]) < 0
}

func distinctCanonicalPlayers(rows []MatchPlayerRow) int {
	seen := map[uuid.UUID]struct{}{}
	for _, row := range rows {
		if row.NotShared {
			continue
		}
		seen[row.PlayerId] = struct{}{}
	}
	return len(seen)
}

func containsId(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// SortRowsByDate orders rows newest first for match history listings.
func SortRowsByDate(rows []MatchPlayerRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].MatchDate.After(rows[j].MatchDate)
	})
}
