package placement

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entrant(score float64) Entrant {
	return Entrant{Id: uuid.New(), Score: score}
}

func placements(ranked []Ranked) []int {
	out := make([]int, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.Placement)
	}
	return out
}

func TestRankHighestScore(t *testing.T) {
	entrants := []Entrant{entrant(7), entrant(10), entrant(3)}

	ranked := RankEntrants(entrants, "highest", 0)

	require.Len(t, ranked, 3)
	assert.Equal(t, []int{2, 1, 3}, placements(ranked))
	assert.False(t, ranked[0].Winner)
	assert.True(t, ranked[1].Winner)
}

func TestRankTiesSkipFollowingRank(t *testing.T) {
	entrants := []Entrant{entrant(10), entrant(10), entrant(7)}

	ranked := RankEntrants(entrants, "highest", 0)

	assert.Equal(t, []int{1, 1, 3}, placements(ranked))
	assert.True(t, ranked[0].Winner)
	assert.True(t, ranked[1].Winner)
	assert.False(t, ranked[2].Winner)
}

func TestRankLowestScore(t *testing.T) {
	entrants := []Entrant{entrant(3), entrant(3), entrant(5)}

	ranked := RankEntrants(entrants, "lowest", 0)

	assert.Equal(t, []int{1, 1, 3}, placements(ranked))
}

func TestRankTargetScoreExactBeatsDistance(t *testing.T) {
	// 21 exactly beats 20 and 22, which tie on distance.
	entrants := []Entrant{entrant(20), entrant(21), entrant(22)}

	ranked := RankEntrants(entrants, "target", 21)

	assert.Equal(t, 2, ranked[0].Placement)
	assert.Equal(t, 1, ranked[1].Placement)
	assert.Equal(t, 2, ranked[2].Placement)
	assert.True(t, ranked[1].Winner)
}

func TestRankTeamsShareOnePlacement(t *testing.T) {
	teamA := uuid.New()
	teamB := uuid.New()

	entrants := []Entrant{
		{Id: uuid.New(), TeamId: &teamA, Score: 12},
		{Id: uuid.New(), TeamId: &teamA, Score: 12},
		{Id: uuid.New(), TeamId: &teamB, Score: 8},
		entrant(10),
	}

	ranked := RankEntrants(entrants, "highest", 0)

	assert.Equal(t, []int{1, 1, 3, 2}, placements(ranked))
	assert.True(t, ranked[0].Winner)
	assert.True(t, ranked[1].Winner)
}

func TestRankTeamsUseFirstMemberScore(t *testing.T) {
	teamA := uuid.New()
	teamB := uuid.New()

	// The second teamA member's own score would rank last; the team is
	// ranked through its first member and every member shares the result.
	entrants := []Entrant{
		{Id: uuid.New(), TeamId: &teamA, Score: 12},
		{Id: uuid.New(), TeamId: &teamA, Score: 3},
		{Id: uuid.New(), TeamId: &teamB, Score: 8},
		entrant(10),
	}

	ranked := RankEntrants(entrants, "highest", 0)

	assert.Equal(t, []int{1, 1, 3, 2}, placements(ranked))
	assert.True(t, ranked[0].Winner)
	assert.True(t, ranked[1].Winner)
	assert.False(t, ranked[2].Winner)
	assert.False(t, ranked[3].Winner)
}

func TestHasTie(t *testing.T) {
	teamA := uuid.New()

	assert.False(t, HasTie([]Ranked{
		{Id: uuid.New(), Placement: 1},
		{Id: uuid.New(), Placement: 2},
	}))

	assert.True(t, HasTie([]Ranked{
		{Id: uuid.New(), Placement: 1},
		{Id: uuid.New(), Placement: 1},
	}))

	// Members of one team do not tie with each other.
	assert.False(t, HasTie([]Ranked{
		{Id: uuid.New(), TeamId: &teamA, Placement: 1},
		{Id: uuid.New(), TeamId: &teamA, Placement: 1},
		{Id: uuid.New(), Placement: 2},
	}))

	// Unplaced entrants never count toward a tie.
	assert.False(t, HasTie([]Ranked{
		{Id: uuid.New(), Placement: 0},
		{Id: uuid.New(), Placement: 0},
		{Id: uuid.New(), Placement: 1},
	}))
}

func TestPlanFinishManualWinCondition(t *testing.T) {
	plan := PlanFinish([]Entrant{entrant(5)}, "manual", 0)
	assert.Equal(t, AwaitingManualWinner, plan.Outcome)
	assert.Empty(t, plan.Ranked)
}

func TestPlanFinishNoWinner(t *testing.T) {
	plan := PlanFinish([]Entrant{entrant(5), entrant(5)}, "none", 0)
	assert.Equal(t, AutoFinished, plan.Outcome)
	assert.Empty(t, plan.Ranked)
}

func TestPlanFinishTieRequiresTieBreak(t *testing.T) {
	plan := PlanFinish([]Entrant{entrant(9), entrant(9), entrant(4)}, "highest", 0)

	assert.Equal(t, AwaitingTieBreak, plan.Outcome)
	// Placements are still computed so they can be persisted while awaiting.
	assert.Equal(t, []int{1, 1, 3}, placements(plan.Ranked))
}

func TestPlanFinishAutoFinishes(t *testing.T) {
	plan := PlanFinish([]Entrant{entrant(9), entrant(4)}, "highest", 0)

	assert.Equal(t, AutoFinished, plan.Outcome)
	assert.Equal(t, []int{1, 2}, placements(plan.Ranked))
}

func TestApplyTieBreakOrder(t *testing.T) {
	a, b := entrant(10), entrant(10)
	teamId := uuid.New()
	c1 := Entrant{Id: uuid.New(), TeamId: &teamId, Score: 10}
	c2 := Entrant{Id: uuid.New(), TeamId: &teamId, Score: 10}

	ranked := ApplyTieBreakOrder([]Entrant{a, b, c1, c2}, []uuid.UUID{b.Id, teamId, a.Id})

	assert.Equal(t, []int{3, 1, 2, 2}, placements(ranked))
	assert.True(t, ranked[1].Winner)
	assert.False(t, ranked[0].Winner)
}

func TestApplyTieBreakOrderMissingUnitIsUnplaced(t *testing.T) {
	a, b := entrant(10), entrant(10)

	ranked := ApplyTieBreakOrder([]Entrant{a, b}, []uuid.UUID{a.Id})

	assert.Equal(t, 1, ranked[0].Placement)
	assert.Equal(t, 0, ranked[1].Placement)
}
