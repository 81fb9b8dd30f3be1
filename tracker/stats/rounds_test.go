package stats

import (
	"testing"
	"tallyboard/tracker/schema"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numericSample(sheetId, roundId, playerId uuid.UUID, value float64) RoundSample {
	return RoundSample{
		RoundLineageId:      roundId,
		RoundName:           "points",
		RoundType:           schema.RoundNumeric,
		ScoresheetLineageId: sheetId,
		WinCondition:        schema.WinHighestScore,
		PlayerId:            playerId,
		Score:               &value,
	}
}

func TestRoundStatsMeanAndStdDev(t *testing.T) {
	sheetId := uuid.New()
	roundId := uuid.New()
	player := uuid.New()

	samples := []RoundSample{
		numericSample(sheetId, roundId, player, 2),
		numericSample(sheetId, roundId, player, 4),
		numericSample(sheetId, roundId, player, 6),
	}

	out := ComputeScoresheetStats(samples)

	require.Len(t, out, 1)
	require.Len(t, out[0].Rounds, 1)
	round := out[0].Rounds[0]
	assert.Equal(t, 3, round.Samples)
	assert.Equal(t, 4.0, round.Mean)
	require.NotNil(t, round.StdDev)
	assert.InDelta(t, 1.63299, *round.StdDev, 1e-4)
}

func TestRoundStatsSingleSampleHasNoStdDev(t *testing.T) {
	sheetId := uuid.New()
	roundId := uuid.New()

	out := ComputeScoresheetStats([]RoundSample{numericSample(sheetId, roundId, uuid.New(), 7)})

	require.Len(t, out, 1)
	round := out[0].Rounds[0]
	assert.Equal(t, 7.0, round.Mean)
	assert.Nil(t, round.StdDev)
}

func TestCheckboxRoundCheckRate(t *testing.T) {
	sheetId := uuid.New()
	roundId := uuid.New()

	checked := 1.0
	unchecked := 0.0
	samples := []RoundSample{
		{RoundLineageId: roundId, RoundType: schema.RoundCheckbox, ScoresheetLineageId: sheetId, PlayerId: uuid.New(), Score: &checked},
		{RoundLineageId: roundId, RoundType: schema.RoundCheckbox, ScoresheetLineageId: sheetId, PlayerId: uuid.New(), Score: &unchecked},
		{RoundLineageId: roundId, RoundType: schema.RoundCheckbox, ScoresheetLineageId: sheetId, PlayerId: uuid.New(), Score: &checked},
		{RoundLineageId: roundId, RoundType: schema.RoundCheckbox, ScoresheetLineageId: sheetId, PlayerId: uuid.New(), Score: &unchecked},
	}

	out := ComputeScoresheetStats(samples)

	require.Len(t, out, 1)
	assert.Equal(t, 50.0, out[0].Rounds[0].CheckRate)
}

func TestNilScoresDoNotCountAsSamples(t *testing.T) {
	sheetId := uuid.New()
	roundId := uuid.New()

	samples := []RoundSample{
		numericSample(sheetId, roundId, uuid.New(), 5),
		{RoundLineageId: roundId, RoundType: schema.RoundNumeric, ScoresheetLineageId: sheetId, PlayerId: uuid.New()},
	}

	out := ComputeScoresheetStats(samples)

	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Rounds[0].Samples)
}

func TestLineageGroupsAcrossPresentations(t *testing.T) {
	// Samples from two forked copies of one round map to the same lineage id
	// and aggregate into a single bucket.
	sheetId := uuid.New()
	lineageId := uuid.New()
	player := uuid.New()

	samples := []RoundSample{
		numericSample(sheetId, lineageId, player, 10),
		numericSample(sheetId, lineageId, player, 20),
	}

	out := ComputeScoresheetStats(samples)

	require.Len(t, out, 1)
	require.Len(t, out[0].Rounds, 1)
	assert.Equal(t, 2, out[0].Rounds[0].Samples)
	assert.Equal(t, 15.0, out[0].Rounds[0].Mean)
}

func TestPlayerRoundStats(t *testing.T) {
	sheetId := uuid.New()
	roundId := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	samples := []RoundSample{
		numericSample(sheetId, roundId, alice, 8),
		numericSample(sheetId, roundId, alice, 12),
		numericSample(sheetId, roundId, bob, 5),
	}

	out := ComputeScoresheetStats(samples)

	require.Len(t, out, 1)
	require.Len(t, out[0].PlayerRounds, 2)

	aliceStats := out[0].PlayerRounds[0]
	assert.Equal(t, alice, aliceStats.PlayerId)
	assert.Equal(t, 2, aliceStats.Samples)
	assert.Equal(t, 10.0, aliceStats.Mean)
	assert.Equal(t, 12.0, *aliceStats.Best)
	assert.Equal(t, 8.0, *aliceStats.Worst)

	bobStats := out[0].PlayerRounds[1]
	assert.Equal(t, bob, bobStats.PlayerId)
	assert.Equal(t, 1, bobStats.Samples)
}

func TestPlayerRoundStatsSkipCheckboxRounds(t *testing.T) {
	sheetId := uuid.New()
	checked := 1.0

	samples := []RoundSample{
		{RoundLineageId: uuid.New(), RoundType: schema.RoundCheckbox, ScoresheetLineageId: sheetId, PlayerId: uuid.New(), Score: &checked},
	}

	out := ComputeScoresheetStats(samples)

	require.Len(t, out, 1)
	assert.Empty(t, out[0].PlayerRounds)
}

func TestScoresheetBucketsKeptSeparate(t *testing.T) {
	sheetA := uuid.New()
	sheetB := uuid.New()

	samples := []RoundSample{
		numericSample(sheetA, uuid.New(), uuid.New(), 1),
		numericSample(sheetB, uuid.New(), uuid.New(), 2),
	}

	out := ComputeScoresheetStats(samples)

	require.Len(t, out, 2)
	assert.Equal(t, sheetA, out[0].ScoresheetLineageId)
	assert.Equal(t, sheetB, out[1].ScoresheetLineageId)
}
