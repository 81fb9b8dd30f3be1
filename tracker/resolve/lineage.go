package resolve

import (
	"log/slog"
	"tallyboard/tracker/schema"
	"tallyboard/utils/logging"

	"github.com/google/uuid"
)

// Lineage ids group otherwise-distinct rows that represent the same logical
// round or scoresheet: a per-match snapshot, its template, and any shared
// presentation the viewer linked all collapse into one bucket.
//
// The lineage of a record is the root of its parent-fork chain, except that
// a viewer's accepted link takes priority: a linked record's lineage is the
// lineage of the link target, so that the recipient's own copy anchors the
// bucket.

func (r *Resolver) RoundLineage(roundId uuid.UUID) uuid.UUID {
	var edge schema.RoundShare
	result := r.txn.Limit(1).Find(&edge,
		"round_id = ? AND recipient_id = ? AND status = ? AND linked_round_id IS NOT NULL",
		roundId, r.viewer, schema.ShareAccepted)
	if result.Error != nil {
		slog.Error("sql error looking up round link for lineage", "round_id", roundId, "error", result.Error)
		return roundId
	}
	if result.RowsAffected != 0 && r.roundOwnedByViewer(*edge.LinkedRoundId) {
		return r.roundForkRoot(*edge.LinkedRoundId)
	}

	return r.roundForkRoot(roundId)
}

func (r *Resolver) roundForkRoot(roundId uuid.UUID) uuid.UUID {
	visited := map[uuid.UUID]struct{}{}
	current := roundId

	for {
		if _, ok := visited[current]; ok {
			slog.Warn("cycle in round fork chain", "code", logging.RESOLVE_ANOMALY, "round_id", roundId)
			return current
		}
		visited[current] = struct{}{}

		var round schema.Round
		// Unscoped: a deleted template still anchors the lineage of its forks.
		result := r.txn.Unscoped().Limit(1).Find(&round, "id = ?", current)
		if result.Error != nil {
			slog.Error("sql error walking round fork chain", "round_id", current, "error", result.Error)
			return current
		}
		if result.RowsAffected == 0 || round.ParentId == nil {
			return current
		}

		current = *round.ParentId
	}
}

func (r *Resolver) ScoresheetLineage(scoresheetId uuid.UUID) uuid.UUID {
	var edge schema.ScoresheetShare
	result := r.txn.Limit(1).Find(&edge,
		"scoresheet_id = ? AND recipient_id = ? AND status = ? AND linked_scoresheet_id IS NOT NULL",
		scoresheetId, r.viewer, schema.ShareAccepted)
	if result.Error != nil {
		slog.Error("sql error looking up scoresheet link for lineage", "scoresheet_id", scoresheetId, "error", result.Error)
		return scoresheetId
	}
	if result.RowsAffected != 0 && r.linkTargetValid(&schema.Scoresheet{}, *edge.LinkedScoresheetId) {
		return r.scoresheetForkRoot(*edge.LinkedScoresheetId)
	}

	return r.scoresheetForkRoot(scoresheetId)
}

func (r *Resolver) scoresheetForkRoot(scoresheetId uuid.UUID) uuid.UUID {
	visited := map[uuid.UUID]struct{}{}
	current := scoresheetId

	for {
		if _, ok := visited[current]; ok {
			slog.Warn("cycle in scoresheet fork chain", "code", logging.RESOLVE_ANOMALY, "scoresheet_id", scoresheetId)
			return current
		}
		visited[current] = struct{}{}

		var sheet schema.Scoresheet
		result := r.txn.Unscoped().Limit(1).Find(&sheet, "id = ?", current)
		if result.Error != nil {
			slog.Error("sql error walking scoresheet fork chain", "scoresheet_id", current, "error", result.Error)
			return current
		}
		if result.RowsAffected == 0 || sheet.ParentId == nil {
			return current
		}

		current = *sheet.ParentId
	}
}
