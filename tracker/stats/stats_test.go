package stats

import (
	"testing"
	"tallyboard/tracker/resolve"
	"tallyboard/tracker/schema"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func score(v float64) *float64 {
	return &v
}

func TestHeaderCountsMatchesOnce(t *testing.T) {
	matchId := uuid.New()
	viewer := uuid.New()
	other := uuid.New()

	rows := []resolve.MatchPlayerRow{
		{MatchId: matchId, Duration: 1200, PlayerId: viewer, Winner: true},
		{MatchId: matchId, Duration: 1200, PlayerId: other},
	}

	stats := ComputeGameStats(rows, viewer)

	assert.Equal(t, 1, stats.Header.MatchesPlayed)
	assert.Equal(t, 1, stats.Header.ViewerMatches)
	assert.Equal(t, 1, stats.Header.ViewerWins)
	assert.Equal(t, 1.0, stats.Header.WinRate)
	assert.Equal(t, 1200, stats.Header.TotalPlaytime)
	assert.Equal(t, 1200.0, stats.Header.AveragePlaytime)
}

func TestHeaderExcludesAbandonedMatchPlaytime(t *testing.T) {
	viewer := uuid.New()

	rows := []resolve.MatchPlayerRow{
		{MatchId: uuid.New(), Duration: 60, PlayerId: viewer},
		{MatchId: uuid.New(), Duration: 900, PlayerId: viewer},
	}

	stats := ComputeGameStats(rows, viewer)

	// Both matches count, but only the long one contributes playtime.
	assert.Equal(t, 2, stats.Header.MatchesPlayed)
	assert.Equal(t, 900, stats.Header.TotalPlaytime)
	assert.Equal(t, 900.0, stats.Header.AveragePlaytime)
}

func TestHeaderNoViewerPlayer(t *testing.T) {
	rows := []resolve.MatchPlayerRow{
		{MatchId: uuid.New(), Duration: 900, PlayerId: uuid.New(), Winner: true},
	}

	stats := ComputeGameStats(rows, uuid.Nil)

	assert.Equal(t, 1, stats.Header.MatchesPlayed)
	assert.Equal(t, 0, stats.Header.ViewerMatches)
	assert.Equal(t, 0.0, stats.Header.WinRate)
}

func TestNotSharedRowsExcluded(t *testing.T) {
	viewer := uuid.New()
	rows := []resolve.MatchPlayerRow{
		{MatchId: uuid.New(), PlayerId: uuid.New(), NotShared: true, Winner: true, Score: score(50)},
	}

	stats := ComputeGameStats(rows, viewer)

	assert.Equal(t, 0, stats.Header.MatchesPlayed)
	assert.Empty(t, stats.Players)
}

func TestCoopAndCompetitiveBucketsNeverBlend(t *testing.T) {
	player := uuid.New()

	rows := []resolve.MatchPlayerRow{
		{MatchId: uuid.New(), PlayerId: player, IsCoop: true, Winner: true},
		{MatchId: uuid.New(), PlayerId: player, IsCoop: true},
		{MatchId: uuid.New(), PlayerId: player, Winner: true},
	}

	stats := ComputeGameStats(rows, uuid.Nil)

	require.Len(t, stats.Players, 1)
	p := stats.Players[0]
	assert.Equal(t, 2, p.Coop.Matches)
	assert.Equal(t, 1, p.Coop.Wins)
	assert.Equal(t, 0.5, p.Coop.WinRate)
	assert.Equal(t, 1, p.Competitive.Matches)
	assert.Equal(t, 1.0, p.Competitive.WinRate)
}

func TestBestWorstFollowWinCondition(t *testing.T) {
	player := uuid.New()

	highRows := []resolve.MatchPlayerRow{
		{MatchId: uuid.New(), PlayerId: player, WinCondition: schema.WinHighestScore, Score: score(10)},
		{MatchId: uuid.New(), PlayerId: player, WinCondition: schema.WinHighestScore, Score: score(25)},
	}
	stats := ComputeGameStats(highRows, uuid.Nil)
	require.Len(t, stats.Players, 1)
	assert.Equal(t, 25.0, *stats.Players[0].BestScore)
	assert.Equal(t, 10.0, *stats.Players[0].WorstScore)

	lowRows := []resolve.MatchPlayerRow{
		{MatchId: uuid.New(), PlayerId: player, WinCondition: schema.WinLowestScore, Score: score(10)},
		{MatchId: uuid.New(), PlayerId: player, WinCondition: schema.WinLowestScore, Score: score(25)},
	}
	stats = ComputeGameStats(lowRows, uuid.Nil)
	require.Len(t, stats.Players, 1)
	assert.Equal(t, 10.0, *stats.Players[0].BestScore)
	assert.Equal(t, 25.0, *stats.Players[0].WorstScore)
}

func TestUnscoredRowsLeaveBestWorstNil(t *testing.T) {
	player := uuid.New()

	rows := []resolve.MatchPlayerRow{
		{MatchId: uuid.New(), PlayerId: player, IsCoop: true, Winner: true},
	}

	stats := ComputeGameStats(rows, uuid.Nil)

	require.Len(t, stats.Players, 1)
	assert.Nil(t, stats.Players[0].BestScore)
	assert.Nil(t, stats.Players[0].WorstScore)
}
