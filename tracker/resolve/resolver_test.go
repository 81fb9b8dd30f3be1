package resolve

import (
	"testing"
	"tallyboard/tracker/schema"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDb(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(schema.AllTables()...))

	return db
}

func makeGame(t *testing.T, db *gorm.DB, owner uuid.UUID) schema.Game {
	game := schema.Game{Id: uuid.New(), Name: "catan", CreatedBy: owner, CreatedAt: time.Now().UTC()}
	require.NoError(t, db.Create(&game).Error)
	return game
}

func makeScoresheet(t *testing.T, db *gorm.DB, gameId, owner uuid.UUID) schema.Scoresheet {
	sheet := schema.Scoresheet{
		Id: uuid.New(), GameId: gameId, Name: "standard",
		WinCondition: schema.WinHighestScore, RoundsScoring: schema.ScoringAggregate,
		CreatedBy: owner, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.Create(&sheet).Error)
	return sheet
}

func makeRound(t *testing.T, db *gorm.DB, sheetId uuid.UUID) schema.Round {
	round := schema.Round{Id: uuid.New(), ScoresheetId: sheetId, Name: "points", Type: schema.RoundNumeric}
	require.NoError(t, db.Create(&round).Error)
	return round
}

func makePlayer(t *testing.T, db *gorm.DB, owner uuid.UUID) schema.Player {
	player := schema.Player{Id: uuid.New(), Name: "alice", CreatedBy: owner, CreatedAt: time.Now().UTC()}
	require.NoError(t, db.Create(&player).Error)
	return player
}

func makeGameShare(t *testing.T, db *gorm.DB, gameId, owner, recipient uuid.UUID, permission, status string) schema.GameShare {
	edge := schema.GameShare{
		Id: uuid.New(), OwnerId: owner, RecipientId: recipient,
		GameId: gameId, Permission: permission, Status: status,
	}
	require.NoError(t, db.Create(&edge).Error)
	return edge
}

func TestResolveDuplicateEdgesPicksLowestId(t *testing.T) {
	db := newTestDb(t)
	owner, viewer := uuid.New(), uuid.New()
	game := makeGame(t, db, owner)

	// Two accepted edges for the same game. Resolution of the entity id must
	// settle on one edge, the lower id, regardless of insertion order.
	low := schema.GameShare{
		Id:      uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		OwnerId: owner, RecipientId: viewer,
		GameId: game.Id, Permission: schema.EditPerm, Status: schema.ShareAccepted,
	}
	high := schema.GameShare{
		Id:      uuid.MustParse("99999999-9999-9999-9999-999999999999"),
		OwnerId: owner, RecipientId: viewer,
		GameId: game.Id, Permission: schema.ViewPerm, Status: schema.ShareAccepted,
	}
	require.NoError(t, db.Create(&high).Error)
	require.NoError(t, db.Create(&low).Error)

	for i := 0; i < 3; i++ {
		identity, err := New(db, viewer).ResolveGame(OriginalRef(game.Id))
		require.NoError(t, err)
		assert.Equal(t, Shared, identity.Provenance)
		assert.Equal(t, low.Id, identity.CanonicalId)
		assert.Equal(t, EditAccess, identity.Permission)
	}
}

func TestResolveOwnedGame(t *testing.T) {
	db := newTestDb(t)
	viewer := uuid.New()
	game := makeGame(t, db, viewer)

	identity, err := New(db, viewer).ResolveGame(OriginalRef(game.Id))

	require.NoError(t, err)
	assert.Equal(t, Original, identity.Provenance)
	assert.Equal(t, game.Id, identity.CanonicalId)
	assert.Equal(t, EditAccess, identity.Permission)
}

func TestResolveForeignGameNotVisible(t *testing.T) {
	db := newTestDb(t)
	game := makeGame(t, db, uuid.New())

	_, err := New(db, uuid.New()).ResolveGame(OriginalRef(game.Id))
	assert.ErrorIs(t, err, ErrNotVisible)

	_, err = New(db, uuid.New()).ResolveGame(OriginalRef(uuid.New()))
	assert.ErrorIs(t, err, ErrNotVisible)
}

func TestResolvePendingShareNotVisible(t *testing.T) {
	db := newTestDb(t)
	owner, viewer := uuid.New(), uuid.New()
	game := makeGame(t, db, owner)
	edge := makeGameShare(t, db, game.Id, owner, viewer, schema.ViewPerm, schema.SharePending)

	_, err := New(db, viewer).ResolveGame(SharedRef(edge.Id))
	assert.ErrorIs(t, err, ErrNotVisible)
}

func TestResolveAcceptedShare(t *testing.T) {
	db := newTestDb(t)
	owner, viewer := uuid.New(), uuid.New()
	game := makeGame(t, db, owner)
	edge := makeGameShare(t, db, game.Id, owner, viewer, schema.ViewPerm, schema.ShareAccepted)

	identity, err := New(db, viewer).ResolveGame(SharedRef(edge.Id))

	require.NoError(t, err)
	assert.Equal(t, Shared, identity.Provenance)
	assert.Equal(t, edge.Id, identity.CanonicalId)
	assert.Equal(t, ViewAccess, identity.Permission)

	// The entity id also resolves through the edge for recipients.
	identity, err = New(db, viewer).ResolveGame(OriginalRef(game.Id))
	require.NoError(t, err)
	assert.Equal(t, Shared, identity.Provenance)
	assert.Equal(t, edge.Id, identity.CanonicalId)
}

func TestResolveEdgeNotVisibleToOthers(t *testing.T) {
	db := newTestDb(t)
	owner, viewer := uuid.New(), uuid.New()
	game := makeGame(t, db, owner)
	edge := makeGameShare(t, db, game.Id, owner, viewer, schema.ViewPerm, schema.ShareAccepted)

	// Edge ids are viewer scoped; even the owner cannot resolve them.
	_, err := New(db, owner).ResolveGame(SharedRef(edge.Id))
	assert.ErrorIs(t, err, ErrNotVisible)
}

func TestLinkedShareWinsOverSharedPath(t *testing.T) {
	db := newTestDb(t)
	owner, viewer := uuid.New(), uuid.New()
	remote := makeGame(t, db, owner)
	local := makeGame(t, db, viewer)

	edge := makeGameShare(t, db, remote.Id, owner, viewer, schema.ViewPerm, schema.ShareAccepted)
	require.NoError(t, db.Model(&edge).Update("linked_game_id", local.Id).Error)

	identity, err := New(db, viewer).ResolveGame(SharedRef(edge.Id))

	require.NoError(t, err)
	assert.Equal(t, Linked, identity.Provenance)
	assert.Equal(t, local.Id, identity.CanonicalId)
	assert.Equal(t, EditAccess, identity.Permission)
}

func TestDanglingLinkFallsBackToShared(t *testing.T) {
	db := newTestDb(t)
	owner, viewer := uuid.New(), uuid.New()
	remote := makeGame(t, db, owner)
	local := makeGame(t, db, viewer)

	edge := makeGameShare(t, db, remote.Id, owner, viewer, schema.ViewPerm, schema.ShareAccepted)
	require.NoError(t, db.Model(&edge).Update("linked_game_id", local.Id).Error)
	require.NoError(t, db.Delete(&local).Error)

	identity, err := New(db, viewer).ResolveGame(SharedRef(edge.Id))

	require.NoError(t, err)
	assert.Equal(t, Shared, identity.Provenance)
	assert.Equal(t, edge.Id, identity.CanonicalId)
	assert.Equal(t, ViewAccess, identity.Permission)
}

func TestLinkToForeignTargetIgnored(t *testing.T) {
	db := newTestDb(t)
	owner, viewer := uuid.New(), uuid.New()
	remote := makeGame(t, db, owner)
	foreign := makeGame(t, db, uuid.New())

	edge := makeGameShare(t, db, remote.Id, owner, viewer, schema.EditPerm, schema.ShareAccepted)
	require.NoError(t, db.Model(&edge).Update("linked_game_id", foreign.Id).Error)

	identity, err := New(db, viewer).ResolveGame(SharedRef(edge.Id))

	require.NoError(t, err)
	assert.Equal(t, Shared, identity.Provenance)
	assert.Equal(t, EditAccess, identity.Permission)
}

func TestDeletedEntityNotVisibleThroughShare(t *testing.T) {
	db := newTestDb(t)
	owner, viewer := uuid.New(), uuid.New()
	game := makeGame(t, db, owner)
	edge := makeGameShare(t, db, game.Id, owner, viewer, schema.ViewPerm, schema.ShareAccepted)

	require.NoError(t, db.Delete(&game).Error)

	_, err := New(db, viewer).ResolveGame(SharedRef(edge.Id))
	assert.ErrorIs(t, err, ErrNotVisible)
}

func TestScoresheetEdgePermissionCappedByParent(t *testing.T) {
	db := newTestDb(t)
	owner, viewer := uuid.New(), uuid.New()
	game := makeGame(t, db, owner)
	sheet := makeScoresheet(t, db, game.Id, owner)

	gameEdge := makeGameShare(t, db, game.Id, owner, viewer, schema.ViewPerm, schema.ShareAccepted)
	sheetEdge := schema.ScoresheetShare{
		Id: uuid.New(), OwnerId: owner, RecipientId: viewer,
		ScoresheetId: sheet.Id, Permission: schema.EditPerm, Status: schema.ShareAccepted,
		ParentShareId: &gameEdge.Id,
	}
	require.NoError(t, db.Create(&sheetEdge).Error)

	identity, err := New(db, viewer).ResolveScoresheet(SharedRef(sheetEdge.Id))

	require.NoError(t, err)
	assert.Equal(t, ViewAccess, identity.Permission)
}

func TestRoundEdgePermissionCappedThroughChain(t *testing.T) {
	db := newTestDb(t)
	owner, viewer := uuid.New(), uuid.New()
	game := makeGame(t, db, owner)
	sheet := makeScoresheet(t, db, game.Id, owner)
	round := makeRound(t, db, sheet.Id)

	gameEdge := makeGameShare(t, db, game.Id, owner, viewer, schema.ViewPerm, schema.ShareAccepted)
	sheetEdge := schema.ScoresheetShare{
		Id: uuid.New(), OwnerId: owner, RecipientId: viewer,
		ScoresheetId: sheet.Id, Permission: schema.EditPerm, Status: schema.ShareAccepted,
		ParentShareId: &gameEdge.Id,
	}
	require.NoError(t, db.Create(&sheetEdge).Error)
	roundEdge := schema.RoundShare{
		Id: uuid.New(), OwnerId: owner, RecipientId: viewer,
		RoundId: round.Id, Permission: schema.EditPerm, Status: schema.ShareAccepted,
		ParentShareId: &sheetEdge.Id,
	}
	require.NoError(t, db.Create(&roundEdge).Error)

	identity, err := New(db, viewer).ResolveRound(SharedRef(roundEdge.Id))

	require.NoError(t, err)
	assert.Equal(t, Shared, identity.Provenance)
	assert.Equal(t, ViewAccess, identity.Permission)
}

func TestMissingParentEdgeFailsClosed(t *testing.T) {
	db := newTestDb(t)
	owner, viewer := uuid.New(), uuid.New()
	game := makeGame(t, db, owner)
	sheet := makeScoresheet(t, db, game.Id, owner)

	missingParent := uuid.New()
	sheetEdge := schema.ScoresheetShare{
		Id: uuid.New(), OwnerId: owner, RecipientId: viewer,
		ScoresheetId: sheet.Id, Permission: schema.EditPerm, Status: schema.ShareAccepted,
		ParentShareId: &missingParent,
	}
	require.NoError(t, db.Create(&sheetEdge).Error)

	identity, err := New(db, viewer).ResolveScoresheet(SharedRef(sheetEdge.Id))

	require.NoError(t, err)
	assert.Equal(t, NoAccess, identity.Permission)
}

func TestResolveOwnedRoundThroughScoresheet(t *testing.T) {
	db := newTestDb(t)
	viewer := uuid.New()
	game := makeGame(t, db, viewer)
	sheet := makeScoresheet(t, db, game.Id, viewer)
	round := makeRound(t, db, sheet.Id)

	identity, err := New(db, viewer).ResolveRound(OriginalRef(round.Id))

	require.NoError(t, err)
	assert.Equal(t, Original, identity.Provenance)
	assert.Equal(t, round.Id, identity.CanonicalId)
}

func TestResolvePlayerLinked(t *testing.T) {
	db := newTestDb(t)
	owner, viewer := uuid.New(), uuid.New()
	remote := makePlayer(t, db, owner)
	local := makePlayer(t, db, viewer)

	edge := schema.PlayerShare{
		Id: uuid.New(), OwnerId: owner, RecipientId: viewer,
		PlayerId: remote.Id, Permission: schema.ViewPerm, Status: schema.ShareAccepted,
		LinkedPlayerId: &local.Id,
	}
	require.NoError(t, db.Create(&edge).Error)

	identity, err := New(db, viewer).ResolvePlayer(OriginalRef(remote.Id))

	require.NoError(t, err)
	assert.Equal(t, Linked, identity.Provenance)
	assert.Equal(t, local.Id, identity.CanonicalId)
}

func TestResolveRolePreResolvedLink(t *testing.T) {
	db := newTestDb(t)
	viewer := uuid.New()
	game := makeGame(t, db, viewer)
	role := schema.GameRole{Id: uuid.New(), GameId: game.Id, Name: "banker", CreatedBy: viewer}
	require.NoError(t, db.Create(&role).Error)

	identity, err := New(db, viewer).ResolveRole(RoleRef{Ref: OriginalRef(uuid.New()), LinkedGameRoleId: &role.Id})

	require.NoError(t, err)
	assert.Equal(t, Linked, identity.Provenance)
	assert.Equal(t, role.Id, identity.CanonicalId)
}

func TestCapPermission(t *testing.T) {
	assert.Equal(t, ViewAccess, CapPermission(EditAccess, ViewAccess))
	assert.Equal(t, ViewAccess, CapPermission(ViewAccess, EditAccess))
	assert.Equal(t, EditAccess, CapPermission(EditAccess, EditAccess))
	assert.Equal(t, NoAccess, CapPermission(EditAccess, NoAccess))
}
