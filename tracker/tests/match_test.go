package tests

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func score(v float64) *float64 {
	return &v
}

// newMatch creates a game, a scoresheet with the given win condition, and a
// match with players named p1..pN. Returns the match id and the match player
// ids in roster order.
func newMatch(t *testing.T, c client, winCondition string, playerCount int) (string, []string) {
	gameId, err := c.createGame("catan")
	require.NoError(t, err)

	body := newSheetBody("standard")
	body["win_condition"] = winCondition
	sheetId, err := c.createScoresheet(gameId, false, body)
	require.NoError(t, err)

	players := make([]map[string]interface{}, 0, playerCount)
	for i := 0; i < playerCount; i++ {
		playerId, err := c.createPlayer(fmt.Sprintf("p%d", i+1))
		require.NoError(t, err)
		players = append(players, map[string]interface{}{"player_id": playerId, "order": i})
	}

	matchId, err := c.createMatch(map[string]interface{}{
		"game_id": gameId, "scoresheet_id": sheetId, "name": "game night",
		"players": players,
	})
	require.NoError(t, err)

	info, err := c.matchInfo(matchId, false)
	require.NoError(t, err)
	require.Len(t, info.Players, playerCount)

	mpIds := make([]string, 0, playerCount)
	for _, mp := range info.Players {
		mpIds = append(mpIds, mp.Id.String())
	}
	return matchId, mpIds
}

func TestCreateMatchForksScoresheet(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("user")
	require.NoError(t, err)

	gameId, sheetId, roundIds := setupGame(t, user)
	playerId, err := user.createPlayer("alice")
	require.NoError(t, err)

	matchId, err := user.createMatch(map[string]interface{}{
		"game_id": gameId, "scoresheet_id": sheetId, "name": "first play",
		"players": []map[string]interface{}{{"player_id": playerId}},
	})
	require.NoError(t, err)

	info, err := user.matchInfo(matchId, false)
	require.NoError(t, err)

	// The match records against a snapshot, not the template.
	assert.NotEqual(t, sheetId, info.ScoresheetId.String())

	fork, err := user.scoresheetInfo(info.ScoresheetId.String(), false)
	require.NoError(t, err)
	require.Len(t, fork.Rounds, len(roundIds))
	for i, round := range fork.Rounds {
		assert.NotEqual(t, roundIds[i], round.Id.String())
	}
}

func TestRoundScoresAggregateIntoTotal(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("user")
	require.NoError(t, err)

	gameId, sheetId, _ := setupGame(t, user)
	playerId, err := user.createPlayer("alice")
	require.NoError(t, err)

	matchId, err := user.createMatch(map[string]interface{}{
		"game_id": gameId, "scoresheet_id": sheetId, "name": "game night",
		"players": []map[string]interface{}{{"player_id": playerId}},
	})
	require.NoError(t, err)

	info, err := user.matchInfo(matchId, false)
	require.NoError(t, err)
	mpId := info.Players[0].Id.String()

	fork, err := user.scoresheetInfo(info.ScoresheetId.String(), false)
	require.NoError(t, err)
	require.Len(t, fork.Rounds, 2)

	require.NoError(t, user.setRoundScore(matchId, mpId, fork.Rounds[0].Id.String(), score(10)))
	require.NoError(t, user.setRoundScore(matchId, mpId, fork.Rounds[1].Id.String(), score(5)))

	info, err = user.matchInfo(matchId, false)
	require.NoError(t, err)
	require.NotNil(t, info.Players[0].Score)
	assert.Equal(t, 15.0, *info.Players[0].Score)

	// Correcting a round recomputes the total.
	require.NoError(t, user.setRoundScore(matchId, mpId, fork.Rounds[1].Id.String(), score(7)))

	info, err = user.matchInfo(matchId, false)
	require.NoError(t, err)
	assert.Equal(t, 17.0, *info.Players[0].Score)
}

func TestCheckboxRoundContributesLookupValue(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("user")
	require.NoError(t, err)

	gameId, err := user.createGame("clank")
	require.NoError(t, err)
	sheetId, err := user.createScoresheet(gameId, false, newSheetBody("standard"))
	require.NoError(t, err)

	_, err = user.createRound(sheetId, map[string]interface{}{
		"name": "escaped", "type": "checkbox", "order": 0, "lookup_value": 20.0,
	})
	require.NoError(t, err)

	playerId, err := user.createPlayer("alice")
	require.NoError(t, err)
	matchId, err := user.createMatch(map[string]interface{}{
		"game_id": gameId, "scoresheet_id": sheetId, "name": "game night",
		"players": []map[string]interface{}{{"player_id": playerId}},
	})
	require.NoError(t, err)

	info, err := user.matchInfo(matchId, false)
	require.NoError(t, err)
	mpId := info.Players[0].Id.String()

	fork, err := user.scoresheetInfo(info.ScoresheetId.String(), false)
	require.NoError(t, err)

	require.NoError(t, user.setRoundScore(matchId, mpId, fork.Rounds[0].Id.String(), score(1)))

	info, err = user.matchInfo(matchId, false)
	require.NoError(t, err)
	require.NotNil(t, info.Players[0].Score)
	assert.Equal(t, 20.0, *info.Players[0].Score)
}

func TestPauseResume(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("user")
	require.NoError(t, err)

	matchId, _ := newMatch(t, user, "highest", 1)

	require.NoError(t, user.pauseMatch(matchId, false))

	info, err := user.matchInfo(matchId, false)
	require.NoError(t, err)
	assert.False(t, info.Running)
	assert.Equal(t, "paused", info.FinishState)

	// Pausing a paused match is a no-op.
	require.NoError(t, user.pauseMatch(matchId, false))

	require.NoError(t, user.resumeMatch(matchId, false))

	info, err = user.matchInfo(matchId, false)
	require.NoError(t, err)
	assert.True(t, info.Running)
	assert.Equal(t, "running", info.FinishState)
}

func TestFinishHighestScoreAutoRanks(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("user")
	require.NoError(t, err)

	matchId, mpIds := newMatch(t, user, "highest", 2)

	require.NoError(t, user.setScore(matchId, mpIds[0], score(7)))
	require.NoError(t, user.setScore(matchId, mpIds[1], score(10)))

	outcome, err := user.finishMatch(matchId, false)
	require.NoError(t, err)
	assert.Equal(t, "auto_finished", outcome)

	info, err := user.matchInfo(matchId, false)
	require.NoError(t, err)
	assert.True(t, info.Finished)
	assert.Equal(t, "finished", info.FinishState)
	assert.False(t, info.Running)

	require.NotNil(t, info.Players[0].Placement)
	require.NotNil(t, info.Players[1].Placement)
	assert.Equal(t, 2, *info.Players[0].Placement)
	assert.Equal(t, 1, *info.Players[1].Placement)
	assert.False(t, info.Players[0].Winner)
	assert.True(t, info.Players[1].Winner)

	// Finished matches reject further score edits.
	assert.Error(t, user.setScore(matchId, mpIds[0], score(12)))
	_, err = user.finishMatch(matchId, false)
	assert.Error(t, err)
}

func TestFinishManualWinCondition(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("user")
	require.NoError(t, err)

	matchId, mpIds := newMatch(t, user, "manual", 2)

	outcome, err := user.finishMatch(matchId, false)
	require.NoError(t, err)
	assert.Equal(t, "awaiting_manual_winner", outcome)

	info, err := user.matchInfo(matchId, false)
	require.NoError(t, err)
	assert.False(t, info.Finished)
	assert.Equal(t, "awaiting_manual_winner", info.FinishState)

	// Winners must be players of this match.
	assert.Error(t, user.confirmWinners(matchId, []string{matchId}))

	require.NoError(t, user.confirmWinners(matchId, []string{mpIds[1]}))

	info, err = user.matchInfo(matchId, false)
	require.NoError(t, err)
	assert.True(t, info.Finished)
	assert.False(t, info.Players[0].Winner)
	assert.True(t, info.Players[1].Winner)
}

func TestFinishTiedScoresAwaitTieBreak(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("user")
	require.NoError(t, err)

	matchId, mpIds := newMatch(t, user, "highest", 3)

	require.NoError(t, user.setScore(matchId, mpIds[0], score(10)))
	require.NoError(t, user.setScore(matchId, mpIds[1], score(10)))
	require.NoError(t, user.setScore(matchId, mpIds[2], score(6)))

	outcome, err := user.finishMatch(matchId, false)
	require.NoError(t, err)
	assert.Equal(t, "awaiting_tie_break", outcome)

	// Provisional placements are visible while awaiting the tie break.
	info, err := user.matchInfo(matchId, false)
	require.NoError(t, err)
	assert.False(t, info.Finished)
	require.NotNil(t, info.Players[0].Placement)
	assert.Equal(t, 1, *info.Players[0].Placement)
	assert.Equal(t, 1, *info.Players[1].Placement)
	assert.Equal(t, 3, *info.Players[2].Placement)

	// The ordering must cover every scored unit.
	assert.Error(t, user.confirmTieBreak(matchId, []string{mpIds[1]}))

	require.NoError(t, user.confirmTieBreak(matchId, []string{mpIds[1], mpIds[0], mpIds[2]}))

	info, err = user.matchInfo(matchId, false)
	require.NoError(t, err)
	assert.True(t, info.Finished)
	assert.Equal(t, 2, *info.Players[0].Placement)
	assert.Equal(t, 1, *info.Players[1].Placement)
	assert.Equal(t, 3, *info.Players[2].Placement)
	assert.True(t, info.Players[1].Winner)
	assert.False(t, info.Players[0].Winner)
}

func TestFinishRetryWhileAwaitingKeepsPendingOutcome(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("user")
	require.NoError(t, err)

	matchId, mpIds := newMatch(t, user, "highest", 2)

	require.NoError(t, user.setScore(matchId, mpIds[0], score(8)))
	require.NoError(t, user.setScore(matchId, mpIds[1], score(8)))

	outcome, err := user.finishMatch(matchId, false)
	require.NoError(t, err)
	require.Equal(t, "awaiting_tie_break", outcome)

	// Breaking the tie with a score edit must not let a retried finish slip
	// past the pending tie break.
	require.NoError(t, user.setScore(matchId, mpIds[0], score(9)))

	outcome, err = user.finishMatch(matchId, false)
	require.NoError(t, err)
	assert.Equal(t, "awaiting_tie_break", outcome)

	info, err := user.matchInfo(matchId, false)
	require.NoError(t, err)
	assert.False(t, info.Finished)
	assert.Equal(t, "awaiting_tie_break", info.FinishState)

	require.NoError(t, user.confirmTieBreak(matchId, []string{mpIds[0], mpIds[1]}))

	info, err = user.matchInfo(matchId, false)
	require.NoError(t, err)
	assert.True(t, info.Finished)
	assert.True(t, info.Players[0].Winner)
}

func TestSharedViewerCannotEditMatch(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	require.NoError(t, err)
	recipient, err := env.newUser("recipient")
	require.NoError(t, err)

	matchId, mpIds := newMatch(t, owner, "highest", 1)

	shareId, err := owner.createShare("match", matchId, recipient.userId, "view", false)
	require.NoError(t, err)
	require.NoError(t, recipient.acceptShare("match", shareId))

	info, err := recipient.matchInfo(shareId, true)
	require.NoError(t, err)
	assert.Equal(t, "view", info.Permission)

	err = recipient.Post(fmt.Sprintf("/matches/%v/players/%v/score?shared=true", shareId, mpIds[0])).
		Json(map[string]interface{}{"score": score(10)}).Do(nil)
	assert.Error(t, err)

	_, err = recipient.finishMatch(shareId, true)
	assert.Error(t, err)
}

func TestSharedEditorCanScoreMatch(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	require.NoError(t, err)
	recipient, err := env.newUser("recipient")
	require.NoError(t, err)

	matchId, mpIds := newMatch(t, owner, "highest", 1)

	shareId, err := owner.createShare("match", matchId, recipient.userId, "edit", false)
	require.NoError(t, err)
	require.NoError(t, recipient.acceptShare("match", shareId))

	err = recipient.Post(fmt.Sprintf("/matches/%v/players/%v/score?shared=true", shareId, mpIds[0])).
		Json(map[string]interface{}{"score": score(42)}).Do(nil)
	require.NoError(t, err)

	info, err := owner.matchInfo(matchId, false)
	require.NoError(t, err)
	require.NotNil(t, info.Players[0].Score)
	assert.Equal(t, 42.0, *info.Players[0].Score)
}

func TestDeleteMatchIsOwnerOnly(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	require.NoError(t, err)
	recipient, err := env.newUser("recipient")
	require.NoError(t, err)

	matchId, _ := newMatch(t, owner, "highest", 1)

	shareId, err := owner.createShare("match", matchId, recipient.userId, "edit", false)
	require.NoError(t, err)
	require.NoError(t, recipient.acceptShare("match", shareId))

	err = recipient.Delete(fmt.Sprintf("/matches/%v", matchId)).Do(nil)
	assert.Error(t, err, "even an editor cannot delete another user's match")

	require.NoError(t, owner.Delete(fmt.Sprintf("/matches/%v", matchId)).Do(nil))

	_, err = owner.matchInfo(matchId, false)
	assert.Error(t, err)
}

func TestMatchListScopedByGame(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("user")
	require.NoError(t, err)

	gameId, sheetId, _ := setupGame(t, user)
	otherGameId, otherSheetId, _ := setupGame(t, user)
	playerId, err := user.createPlayer("alice")
	require.NoError(t, err)

	matchId, err := user.createMatch(map[string]interface{}{
		"game_id": gameId, "scoresheet_id": sheetId, "name": "a",
		"players": []map[string]interface{}{{"player_id": playerId}},
	})
	require.NoError(t, err)
	_, err = user.createMatch(map[string]interface{}{
		"game_id": otherGameId, "scoresheet_id": otherSheetId, "name": "b",
		"players": []map[string]interface{}{{"player_id": playerId}},
	})
	require.NoError(t, err)

	all, err := user.listMatches("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := user.listMatches("?game_id=" + gameId)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, matchId, scoped[0].Id.String())

	finished, err := user.listMatches("?finished=true")
	require.NoError(t, err)
	assert.Empty(t, finished)
}
