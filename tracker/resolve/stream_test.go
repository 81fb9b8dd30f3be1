package resolve

import (
	"testing"
	"tallyboard/tracker/schema"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func makeMatch(t *testing.T, db *gorm.DB, gameId, sheetId, owner uuid.UUID, finished bool, date time.Time) schema.Match {
	match := schema.Match{
		Id: uuid.New(), Name: "friday night", Date: date,
		GameId: gameId, ScoresheetId: sheetId,
		Duration: 1800, Finished: finished,
		FinishState: schema.MatchRunning,
		CreatedBy:   owner, CreatedAt: date,
	}
	if finished {
		match.FinishState = schema.MatchFinished
	}
	require.NoError(t, db.Create(&match).Error)
	return match
}

func makeMatchPlayer(t *testing.T, db *gorm.DB, matchId, playerId uuid.UUID, score *float64) schema.MatchPlayer {
	mp := schema.MatchPlayer{Id: uuid.New(), MatchId: matchId, PlayerId: playerId, Score: score}
	require.NoError(t, db.Create(&mp).Error)
	return mp
}

func makeMatchShare(t *testing.T, db *gorm.DB, matchId, owner, recipient uuid.UUID) schema.MatchShare {
	edge := schema.MatchShare{
		Id: uuid.New(), OwnerId: owner, RecipientId: recipient,
		MatchId: matchId, Permission: schema.ViewPerm, Status: schema.ShareAccepted,
	}
	require.NoError(t, db.Create(&edge).Error)
	return edge
}

func TestStreamOwnedMatch(t *testing.T) {
	db := newTestDb(t)
	viewer := uuid.New()
	game := makeGame(t, db, viewer)
	sheet := makeScoresheet(t, db, game.Id, viewer)
	match := makeMatch(t, db, game.Id, sheet.Id, viewer, true, time.Now().UTC())

	alice := makePlayer(t, db, viewer)
	bob := makePlayer(t, db, viewer)
	makeMatchPlayer(t, db, match.Id, alice.Id, nil)
	makeMatchPlayer(t, db, match.Id, bob.Id, nil)

	rows, err := BuildMatchPlayerStream(db, viewer, Scope{})

	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, match.Id, row.MatchId)
		assert.Equal(t, Original, row.PlayerProvenance)
		assert.False(t, row.NotShared)
		assert.Equal(t, 2, row.PlayerCount)
		assert.Equal(t, sheet.Id, row.ScoresheetLineageId)
	}
}

func TestStreamSharedMatchUsesEdgeId(t *testing.T) {
	db := newTestDb(t)
	owner, viewer := uuid.New(), uuid.New()
	game := makeGame(t, db, owner)
	sheet := makeScoresheet(t, db, game.Id, owner)
	match := makeMatch(t, db, game.Id, sheet.Id, owner, true, time.Now().UTC())

	player := makePlayer(t, db, owner)
	makeMatchPlayer(t, db, match.Id, player.Id, nil)

	edge := makeMatchShare(t, db, match.Id, owner, viewer)

	rows, err := BuildMatchPlayerStream(db, viewer, Scope{})

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, edge.Id, rows[0].MatchId)

	// The owner's player is not shared with the viewer. The row stays in the
	// roster but counts toward nothing.
	assert.True(t, rows[0].NotShared)
	assert.Equal(t, player.Id, rows[0].PlayerId)
	assert.Equal(t, 0, rows[0].PlayerCount)
}

func TestStreamDedupesDuplicateMatchEdges(t *testing.T) {
	db := newTestDb(t)
	owner, viewer := uuid.New(), uuid.New()
	game := makeGame(t, db, owner)
	sheet := makeScoresheet(t, db, game.Id, owner)
	match := makeMatch(t, db, game.Id, sheet.Id, owner, true, time.Now().UTC())

	player := makePlayer(t, db, owner)
	makeMatchPlayer(t, db, match.Id, player.Id, nil)

	// Two accepted edges to the same match. The stream keeps one history
	// entry, canonicalized under the lower edge id regardless of creation
	// order.
	low := schema.MatchShare{
		Id:      uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		OwnerId: owner, RecipientId: viewer,
		MatchId: match.Id, Permission: schema.ViewPerm, Status: schema.ShareAccepted,
	}
	high := schema.MatchShare{
		Id:      uuid.MustParse("99999999-9999-9999-9999-999999999999"),
		OwnerId: owner, RecipientId: viewer,
		MatchId: match.Id, Permission: schema.ViewPerm, Status: schema.ShareAccepted,
	}
	require.NoError(t, db.Create(&high).Error)
	require.NoError(t, db.Create(&low).Error)

	rows, err := BuildMatchPlayerStream(db, viewer, Scope{})

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, low.Id, rows[0].MatchId)
}

func TestStreamResolvesSharedPlayers(t *testing.T) {
	db := newTestDb(t)
	owner, viewer := uuid.New(), uuid.New()
	game := makeGame(t, db, owner)
	sheet := makeScoresheet(t, db, game.Id, owner)
	match := makeMatch(t, db, game.Id, sheet.Id, owner, true, time.Now().UTC())

	player := makePlayer(t, db, owner)
	makeMatchPlayer(t, db, match.Id, player.Id, nil)
	makeMatchShare(t, db, match.Id, owner, viewer)

	playerEdge := schema.PlayerShare{
		Id: uuid.New(), OwnerId: owner, RecipientId: viewer,
		PlayerId: player.Id, Permission: schema.ViewPerm, Status: schema.ShareAccepted,
	}
	require.NoError(t, db.Create(&playerEdge).Error)

	rows, err := BuildMatchPlayerStream(db, viewer, Scope{})

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].NotShared)
	assert.Equal(t, Shared, rows[0].PlayerProvenance)
	assert.Equal(t, playerEdge.Id, rows[0].PlayerId)
	assert.Equal(t, 1, rows[0].PlayerCount)
}

func TestStreamSkipsDeletedSharedMatches(t *testing.T) {
	db := newTestDb(t)
	owner, viewer := uuid.New(), uuid.New()
	game := makeGame(t, db, owner)
	sheet := makeScoresheet(t, db, game.Id, owner)
	match := makeMatch(t, db, game.Id, sheet.Id, owner, true, time.Now().UTC())
	makeMatchShare(t, db, match.Id, owner, viewer)

	require.NoError(t, db.Delete(&match).Error)

	rows, err := BuildMatchPlayerStream(db, viewer, Scope{})

	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStreamScopeMergesLinkedGameHistory(t *testing.T) {
	db := newTestDb(t)
	owner, viewer := uuid.New(), uuid.New()

	local := makeGame(t, db, viewer)
	localSheet := makeScoresheet(t, db, local.Id, viewer)
	localMatch := makeMatch(t, db, local.Id, localSheet.Id, viewer, true, time.Now().UTC())
	mine := makePlayer(t, db, viewer)
	makeMatchPlayer(t, db, localMatch.Id, mine.Id, nil)

	remote := makeGame(t, db, owner)
	remoteSheet := makeScoresheet(t, db, remote.Id, owner)
	remoteMatch := makeMatch(t, db, remote.Id, remoteSheet.Id, owner, true, time.Now().UTC())
	theirs := makePlayer(t, db, owner)
	makeMatchPlayer(t, db, remoteMatch.Id, theirs.Id, nil)

	gameEdge := makeGameShare(t, db, remote.Id, owner, viewer, schema.ViewPerm, schema.ShareAccepted)
	require.NoError(t, db.Model(&gameEdge).Update("linked_game_id", local.Id).Error)
	matchEdge := makeMatchShare(t, db, remoteMatch.Id, owner, viewer)

	// Scoping by the viewer's own game pulls in matches of every remote game
	// linked back to it.
	gameRef := OriginalRef(local.Id)
	rows, err := BuildMatchPlayerStream(db, viewer, Scope{Game: &gameRef})

	require.NoError(t, err)
	require.Len(t, rows, 2)
	matchIds := []uuid.UUID{rows[0].MatchId, rows[1].MatchId}
	assert.Contains(t, matchIds, localMatch.Id)
	assert.Contains(t, matchIds, matchEdge.Id)
}

func TestStreamScopeUnlinkedShareIsOwnersGameAlone(t *testing.T) {
	db := newTestDb(t)
	owner, viewer := uuid.New(), uuid.New()

	local := makeGame(t, db, viewer)
	localSheet := makeScoresheet(t, db, local.Id, viewer)
	makeMatch(t, db, local.Id, localSheet.Id, viewer, true, time.Now().UTC())

	remote := makeGame(t, db, owner)
	remoteSheet := makeScoresheet(t, db, remote.Id, owner)
	remoteMatch := makeMatch(t, db, remote.Id, remoteSheet.Id, owner, true, time.Now().UTC())

	gameEdge := makeGameShare(t, db, remote.Id, owner, viewer, schema.ViewPerm, schema.ShareAccepted)
	matchEdge := makeMatchShare(t, db, remoteMatch.Id, owner, viewer)

	gameRef := SharedRef(gameEdge.Id)
	rows, err := BuildMatchPlayerStream(db, viewer, Scope{Game: &gameRef})

	require.NoError(t, err)
	require.Len(t, rows, 0)

	makeMatchPlayer(t, db, remoteMatch.Id, makePlayer(t, db, owner).Id, nil)
	rows, err = BuildMatchPlayerStream(db, viewer, Scope{Game: &gameRef})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, matchEdge.Id, rows[0].MatchId)
}

func TestStreamScopeNotVisibleYieldsEmpty(t *testing.T) {
	db := newTestDb(t)
	viewer := uuid.New()
	game := makeGame(t, db, viewer)
	sheet := makeScoresheet(t, db, game.Id, viewer)
	match := makeMatch(t, db, game.Id, sheet.Id, viewer, true, time.Now().UTC())
	makeMatchPlayer(t, db, match.Id, makePlayer(t, db, viewer).Id, nil)

	gameRef := OriginalRef(uuid.New())
	rows, err := BuildMatchPlayerStream(db, viewer, Scope{Game: &gameRef})

	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStreamFinishedOnly(t *testing.T) {
	db := newTestDb(t)
	viewer := uuid.New()
	game := makeGame(t, db, viewer)
	sheet := makeScoresheet(t, db, game.Id, viewer)
	finished := makeMatch(t, db, game.Id, sheet.Id, viewer, true, time.Now().UTC())
	running := makeMatch(t, db, game.Id, sheet.Id, viewer, false, time.Now().UTC())

	player := makePlayer(t, db, viewer)
	makeMatchPlayer(t, db, finished.Id, player.Id, nil)
	makeMatchPlayer(t, db, running.Id, player.Id, nil)

	rows, err := BuildMatchPlayerStream(db, viewer, Scope{FinishedOnly: true})

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, finished.Id, rows[0].MatchId)
}

func TestDedupPrefersOwnProvenance(t *testing.T) {
	matchId, playerId := uuid.New(), uuid.New()

	shared := MatchPlayerRow{MatchId: matchId, PlayerId: playerId, PlayerProvenance: Shared, RawRowId: uuid.New()}
	linked := MatchPlayerRow{MatchId: matchId, PlayerId: playerId, PlayerProvenance: Linked, RawRowId: uuid.New()}

	out := DedupRows([]MatchPlayerRow{shared, linked})

	require.Len(t, out, 1)
	assert.Equal(t, Linked, out[0].PlayerProvenance)

	// Order of arrival does not change the winner.
	out = DedupRows([]MatchPlayerRow{linked, shared})
	require.Len(t, out, 1)
	assert.Equal(t, Linked, out[0].PlayerProvenance)
}

func TestDedupBreaksTiesByLowestRawRowId(t *testing.T) {
	matchId, playerId := uuid.New(), uuid.New()

	low := MatchPlayerRow{MatchId: matchId, PlayerId: playerId, PlayerProvenance: Original,
		RawRowId: uuid.MustParse("00000000-0000-0000-0000-000000000001")}
	high := MatchPlayerRow{MatchId: matchId, PlayerId: playerId, PlayerProvenance: Original,
		RawRowId: uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")}

	out := DedupRows([]MatchPlayerRow{high, low})

	require.Len(t, out, 1)
	assert.Equal(t, low.RawRowId, out[0].RawRowId)
}

func TestDedupNeverMergesNotSharedRows(t *testing.T) {
	matchId, playerId := uuid.New(), uuid.New()

	a := MatchPlayerRow{MatchId: matchId, PlayerId: playerId, NotShared: true, RawRowId: uuid.New()}
	b := MatchPlayerRow{MatchId: matchId, PlayerId: playerId, NotShared: true, RawRowId: uuid.New()}

	out := DedupRows([]MatchPlayerRow{a, b})
	assert.Len(t, out, 2)
}

func TestSortRowsByDateNewestFirst(t *testing.T) {
	now := time.Now().UTC()
	rows := []MatchPlayerRow{
		{MatchDate: now.Add(-2 * time.Hour)},
		{MatchDate: now},
		{MatchDate: now.Add(-1 * time.Hour)},
	}

	SortRowsByDate(rows)

	assert.Equal(t, now, rows[0].MatchDate)
	assert.Equal(t, now.Add(-1*time.Hour), rows[1].MatchDate)
	assert.Equal(t, now.Add(-2*time.Hour), rows[2].MatchDate)
}
