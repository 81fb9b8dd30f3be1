// Package placement converts final scores into ordinal placements according
// to a scoresheet's win condition and decides whether a match can finish on
// its own or needs a human.
package placement

import (
	"math"
	"sort"
	"tallyboard/tracker/schema"

	"github.com/google/uuid"
)

// Entrant is one match player with their computed final score. Entrants on
// the same team are ranked through one representative member; every member
// shares the team's placement.
type Entrant struct {
	Id     uuid.UUID
	TeamId *uuid.UUID
	Score  float64
}

type Ranked struct {
	Id        uuid.UUID
	TeamId    *uuid.UUID
	Placement int
	Winner    bool
}

type Outcome string

const (
	AutoFinished         Outcome = "auto_finished"
	AwaitingManualWinner Outcome = "awaiting_manual_winner"
	AwaitingTieBreak     Outcome = "awaiting_tie_break"
)

// FinishPlan carries the outcome of a finish request plus the placements to
// persist. Placements are persisted even for the awaiting outcomes so the
// computed scores survive a client disconnect; only the finished flag and
// winner markers await confirmation.
type FinishPlan struct {
	Outcome Outcome
	Ranked  []Ranked
}

// PlanFinish decides the finish outcome for a match under the given win
// condition.
func PlanFinish(entrants []Entrant, winCondition string, targetScore float64) FinishPlan {
	switch winCondition {
	case schema.WinManual:
		return FinishPlan{Outcome: AwaitingManualWinner}
	case schema.WinNoWinner:
		// No ranking; the match is always finishable and no winner exists.
		return FinishPlan{Outcome: AutoFinished}
	}

	ranked := RankEntrants(entrants, winCondition, targetScore)
	if HasTie(ranked) {
		return FinishPlan{Outcome: AwaitingTieBreak, Ranked: ranked}
	}

	return FinishPlan{Outcome: AutoFinished, Ranked: ranked}
}

// rankUnit is one ranked position: a whole team or a teamless player. Team
// score comes from the first member encountered; teams win and lose together.
type rankUnit struct {
	entrantId uuid.UUID
	teamId    *uuid.UUID
	score     float64
}

// RankEntrants assigns standard competition placements: tied entrants share
// a placement and the following rank is skipped ([10,10,7] places 1,1,3).
func RankEntrants(entrants []Entrant, winCondition string, targetScore float64) []Ranked {
	units := make([]rankUnit, 0, len(entrants))
	seenTeams := map[uuid.UUID]struct{}{}

	for _, entrant := range entrants {
		if entrant.TeamId != nil {
			if _, ok := seenTeams[*entrant.TeamId]; ok {
				continue
			}
			seenTeams[*entrant.TeamId] = struct{}{}
		}
		units = append(units, rankUnit{entrantId: entrant.Id, teamId: entrant.TeamId, score: entrant.Score})
	}

	sort.SliceStable(units, func(i, j int) bool {
		return scoreRanksBefore(units[i].score, units[j].score, winCondition, targetScore)
	})

	placementByUnit := map[uuid.UUID]int{}
	teamPlacement := map[uuid.UUID]int{}

	current := 0
	for i, unit := range units {
		if i == 0 || !scoresEqual(units[i-1].score, unit.score, winCondition, targetScore) {
			current = i + 1
		}
		placementByUnit[unit.entrantId] = current
		if unit.teamId != nil {
			teamPlacement[*unit.teamId] = current
		}
	}

	out := make([]Ranked, 0, len(entrants))
	for _, entrant := range entrants {
		placement := 0
		if entrant.TeamId != nil {
			placement = teamPlacement[*entrant.TeamId]
		} else {
			placement = placementByUnit[entrant.Id]
		}
		out = append(out, Ranked{
			Id:        entrant.Id,
			TeamId:    entrant.TeamId,
			Placement: placement,
			Winner:    placement == 1,
		})
	}

	return out
}

func scoreRanksBefore(a, b float64, winCondition string, targetScore float64) bool {
	switch winCondition {
	case schema.WinLowestScore:
		return a < b
	case schema.WinTargetScore:
		aExact, bExact := a == targetScore, b == targetScore
		if aExact != bExact {
			return aExact
		}
		return math.Abs(a-targetScore) < math.Abs(b-targetScore)
	default:
		return a > b
	}
}

// scoresEqual is the tie predicate matching the sort comparator: two scores
// tie when neither ranks before the other.
func scoresEqual(a, b float64, winCondition string, targetScore float64) bool {
	return !scoreRanksBefore(a, b, winCondition, targetScore) &&
		!scoreRanksBefore(b, a, winCondition, targetScore)
}

// HasTie reports whether any placement occurs more than once across distinct
// teams and teamless players. Unplaced entrants (placement 0) never count;
// a tie is a property of computed rankings only.
func HasTie(ranked []Ranked) bool {
	counts := map[int]int{}
	seenTeams := map[uuid.UUID]struct{}{}

	for _, entry := range ranked {
		if entry.Placement <= 0 {
			continue
		}
		if entry.TeamId != nil {
			if _, ok := seenTeams[*entry.TeamId]; ok {
				continue
			}
			seenTeams[*entry.TeamId] = struct{}{}
		}
		counts[entry.Placement]++
		if counts[entry.Placement] > 1 {
			return true
		}
	}

	return false
}

// ApplyTieBreakOrder converts an explicit human ordering of rank units into
// strict placements. orderedIds lists unit ids (team id for teamed entrants,
// entrant id otherwise) from first place down; every listed unit gets a
// distinct placement and its members share it.
func ApplyTieBreakOrder(entrants []Entrant, orderedIds []uuid.UUID) []Ranked {
	position := map[uuid.UUID]int{}
	for i, id := range orderedIds {
		position[id] = i + 1
	}

	out := make([]Ranked, 0, len(entrants))
	for _, entrant := range entrants {
		unitId := entrant.Id
		if entrant.TeamId != nil {
			unitId = *entrant.TeamId
		}
		placement := position[unitId]
		out = append(out, Ranked{
			Id:        entrant.Id,
			TeamId:    entrant.TeamId,
			Placement: placement,
			Winner:    placement == 1,
		})
	}

	return out
}
