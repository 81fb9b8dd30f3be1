package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"tallyboard/tracker/auth"
	"tallyboard/tracker/resolve"
	"tallyboard/tracker/schema"
	"tallyboard/utils"
	"tallyboard/utils/logging"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Share edge families, one per shareable entity kind.
const (
	FamilyGame       = "game"
	FamilyScoresheet = "scoresheet"
	FamilyRound      = "round"
	FamilyMatch      = "match"
	FamilyPlayer     = "player"
	FamilyRole       = "role"
)

const inviteTokenLifetime = 7 * 24 * time.Hour

type ShareService struct {
	db         *gorm.DB
	userAuth   auth.IdentityProvider
	inviteAuth *auth.JwtManager
}

func (s *ShareService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Post("/create", s.Create)
	r.Get("/incoming", s.Incoming)
	r.Get("/outgoing", s.Outgoing)
	r.Post("/accept-invite", s.AcceptInvite)

	r.Route("/{family}/{share_id}", func(r chi.Router) {
		r.Post("/accept", s.Accept)
		r.Post("/decline", s.Decline)
		r.Post("/revoke", s.Revoke)
		r.Post("/invite", s.CreateInvite)

		r.Post("/link", s.Link)
		r.Delete("/link", s.Unlink)
	})

	return r
}

func validFamily(family string) bool {
	switch family {
	case FamilyGame, FamilyScoresheet, FamilyRound, FamilyMatch, FamilyPlayer, FamilyRole:
		return true
	}
	return false
}

type createShareRequest struct {
	Family      string    `json:"family"`
	EntityId    uuid.UUID `json:"entity_id"`
	RecipientId uuid.UUID `json:"recipient_id"`
	Permission  string    `json:"permission"`

	// For game shares, also create child edges for the game's scoresheets,
	// rounds, roles, and matches.
	IncludeChildren bool `json:"include_children"`
}

type createShareResponse struct {
	ShareId uuid.UUID `json:"share_id"`
}

// checkShareOwnership verifies the caller owns the entity being shared.
func checkShareOwnership(txn *gorm.DB, family string, entityId, userId uuid.UUID) error {
	var createdBy uuid.UUID

	switch family {
	case FamilyGame:
		game, err := schema.GetGame(entityId, txn, false, false)
		if err != nil {
			return shareEntityErr(err, schema.ErrGameNotFound)
		}
		createdBy = game.CreatedBy
	case FamilyScoresheet:
		sheet, err := schema.GetScoresheet(entityId, txn, false)
		if err != nil {
			return shareEntityErr(err, schema.ErrScoresheetNotFound)
		}
		createdBy = sheet.CreatedBy
	case FamilyRound:
		round, err := schema.GetRound(entityId, txn)
		if err != nil {
			return shareEntityErr(err, schema.ErrRoundNotFound)
		}
		sheet, err := schema.GetScoresheet(round.ScoresheetId, txn, false)
		if err != nil {
			return shareEntityErr(err, schema.ErrScoresheetNotFound)
		}
		createdBy = sheet.CreatedBy
	case FamilyMatch:
		match, err := schema.GetMatch(entityId, txn, false)
		if err != nil {
			return shareEntityErr(err, schema.ErrMatchNotFound)
		}
		createdBy = match.CreatedBy
	case FamilyPlayer:
		player, err := schema.GetPlayer(entityId, txn)
		if err != nil {
			return shareEntityErr(err, schema.ErrPlayerNotFound)
		}
		createdBy = player.CreatedBy
	case FamilyRole:
		role, err := schema.GetGameRole(entityId, txn)
		if err != nil {
			return shareEntityErr(err, schema.ErrRoleNotFound)
		}
		createdBy = role.CreatedBy
	}

	if createdBy != userId {
		return CodedError(resolve.ErrNotVisible, http.StatusNotFound)
	}
	return nil
}

func shareEntityErr(err, notFound error) error {
	if errors.Is(err, notFound) {
		return CodedError(resolve.ErrNotVisible, http.StatusNotFound)
	}
	return CodedError(err, http.StatusInternalServerError)
}

// hasAcceptedGameShare reports whether the recipient already accepted a share
// of the game from this owner. Match shares of such games auto-accept.
func hasAcceptedGameShare(txn *gorm.DB, ownerId, recipientId, gameId uuid.UUID) (schema.GameShare, bool, error) {
	var edge schema.GameShare
	result := txn.Limit(1).Find(&edge,
		"owner_id = ? AND recipient_id = ? AND game_id = ? AND status = ?",
		ownerId, recipientId, gameId, schema.ShareAccepted)
	if result.Error != nil {
		slog.Error("sql error checking for accepted game share", "error", result.Error)
		return schema.GameShare{}, false, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	return edge, result.RowsAffected != 0, nil
}

func (s *ShareService) Create(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params createShareRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if !validFamily(params.Family) {
		http.Error(w, fmt.Sprintf("invalid share family '%v'", params.Family), http.StatusUnprocessableEntity)
		return
	}
	if !schema.CheckValidPermission(params.Permission) {
		http.Error(w, fmt.Sprintf("invalid permission '%v'", params.Permission), http.StatusUnprocessableEntity)
		return
	}
	if params.RecipientId == user.Id {
		http.Error(w, "cannot share an entity with its owner", http.StatusUnprocessableEntity)
		return
	}

	shareId := uuid.New()

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkUserExists(txn, params.RecipientId); err != nil {
			return err
		}
		if err := checkShareOwnership(txn, params.Family, params.EntityId, user.Id); err != nil {
			return err
		}

		// A live edge for the same triple already grants the recipient this
		// entity; creating again returns it rather than a duplicate.
		if existingId, found, err := findLiveEdge(txn, params.Family, user.Id, params.RecipientId, params.EntityId); err != nil {
			return err
		} else if found {
			shareId = existingId
			return nil
		}

		switch params.Family {
		case FamilyGame:
			return s.createGameShare(txn, shareId, user.Id, params)
		case FamilyScoresheet:
			edge := schema.ScoresheetShare{
				Id: shareId, OwnerId: user.Id, RecipientId: params.RecipientId,
				ScoresheetId: params.EntityId, Permission: params.Permission, Status: schema.SharePending,
			}
			return createEdge(txn, &edge)
		case FamilyRound:
			edge := schema.RoundShare{
				Id: shareId, OwnerId: user.Id, RecipientId: params.RecipientId,
				RoundId: params.EntityId, Permission: params.Permission, Status: schema.SharePending,
			}
			return createEdge(txn, &edge)
		case FamilyMatch:
			return s.createMatchShare(txn, shareId, user.Id, params)
		case FamilyPlayer:
			edge := schema.PlayerShare{
				Id: shareId, OwnerId: user.Id, RecipientId: params.RecipientId,
				PlayerId: params.EntityId, Permission: params.Permission, Status: schema.SharePending,
			}
			return createEdge(txn, &edge)
		case FamilyRole:
			edge := schema.GameRoleShare{
				Id: shareId, OwnerId: user.Id, RecipientId: params.RecipientId,
				GameRoleId: params.EntityId, Permission: params.Permission, Status: schema.SharePending,
			}
			return createEdge(txn, &edge)
		}
		return CodedError(errors.New("unreachable share family"), http.StatusInternalServerError)
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error creating share: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("created share", "family", params.Family, "share_id", shareId, "code", logging.SHARE_CREATE)

	utils.WriteJsonResponse(w, createShareResponse{ShareId: shareId})
}

func createEdge(txn *gorm.DB, edge interface{}) error {
	result := txn.Create(edge)
	if result.Error != nil {
		slog.Error("sql error creating share edge", "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	return nil
}

func familyEntityColumn(family string) string {
	switch family {
	case FamilyGame:
		return "game_id"
	case FamilyScoresheet:
		return "scoresheet_id"
	case FamilyRound:
		return "round_id"
	case FamilyMatch:
		return "match_id"
	case FamilyPlayer:
		return "player_id"
	case FamilyRole:
		return "game_role_id"
	}
	return ""
}

// findLiveEdge looks up an existing pending or accepted edge for the same
// (owner, recipient, entity) triple. Share creation reuses such an edge
// instead of creating a second one, so an entity is never reachable through
// two canonical ids for the same recipient.
func findLiveEdge(txn *gorm.DB, family string, ownerId, recipientId, entityId uuid.UUID) (uuid.UUID, bool, error) {
	var ids []uuid.UUID
	result := txn.Model(familyModel(family)).
		Where(fmt.Sprintf("%v = ? AND owner_id = ? AND recipient_id = ? AND status IN ?", familyEntityColumn(family)),
			entityId, ownerId, recipientId, []string{schema.SharePending, schema.ShareAccepted}).
		Order("id").Limit(1).Pluck("id", &ids)
	if result.Error != nil {
		slog.Error("sql error checking for existing share edge", "family", family, "error", result.Error)
		return uuid.Nil, false, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	if len(ids) == 0 {
		return uuid.Nil, false, nil
	}
	return ids[0], true, nil
}

// createGameShare creates the game edge and, when requested, pending child
// edges for every scoresheet, round, role, and match of the game. Child
// permissions never exceed the parent's.
func (s *ShareService) createGameShare(txn *gorm.DB, shareId, ownerId uuid.UUID, params createShareRequest) error {
	edge := schema.GameShare{
		Id: shareId, OwnerId: ownerId, RecipientId: params.RecipientId,
		GameId: params.EntityId, Permission: params.Permission, Status: schema.SharePending,
	}
	if err := createEdge(txn, &edge); err != nil {
		return err
	}

	if !params.IncludeChildren {
		return nil
	}

	var sheets []schema.Scoresheet
	result := txn.Where("game_id = ? AND forked_for_match_id IS NULL", params.EntityId).Find(&sheets)
	if result.Error != nil {
		slog.Error("sql error listing scoresheets for game share", "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	for _, sheet := range sheets {
		if _, found, err := findLiveEdge(txn, FamilyScoresheet, ownerId, params.RecipientId, sheet.Id); err != nil {
			return err
		} else if found {
			continue
		}
		sheetEdge := schema.ScoresheetShare{
			Id: uuid.New(), OwnerId: ownerId, RecipientId: params.RecipientId,
			ScoresheetId: sheet.Id, Permission: params.Permission, Status: schema.SharePending,
			ParentShareId: &edge.Id,
		}
		if err := createEdge(txn, &sheetEdge); err != nil {
			return err
		}

		var rounds []schema.Round
		result := txn.Where("scoresheet_id = ?", sheet.Id).Find(&rounds)
		if result.Error != nil {
			slog.Error("sql error listing rounds for game share", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		for _, round := range rounds {
			if _, found, err := findLiveEdge(txn, FamilyRound, ownerId, params.RecipientId, round.Id); err != nil {
				return err
			} else if found {
				continue
			}
			roundEdge := schema.RoundShare{
				Id: uuid.New(), OwnerId: ownerId, RecipientId: params.RecipientId,
				RoundId: round.Id, Permission: params.Permission, Status: schema.SharePending,
				ParentShareId: &sheetEdge.Id,
			}
			if err := createEdge(txn, &roundEdge); err != nil {
				return err
			}
		}
	}

	var roles []schema.GameRole
	result = txn.Where("game_id = ?", params.EntityId).Find(&roles)
	if result.Error != nil {
		slog.Error("sql error listing roles for game share", "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	for _, role := range roles {
		if _, found, err := findLiveEdge(txn, FamilyRole, ownerId, params.RecipientId, role.Id); err != nil {
			return err
		} else if found {
			continue
		}
		roleEdge := schema.GameRoleShare{
			Id: uuid.New(), OwnerId: ownerId, RecipientId: params.RecipientId,
			GameRoleId: role.Id, Permission: params.Permission, Status: schema.SharePending,
			ParentShareId: &edge.Id,
		}
		if err := createEdge(txn, &roleEdge); err != nil {
			return err
		}
	}

	var matches []schema.Match
	result = txn.Where("game_id = ? AND created_by = ?", params.EntityId, ownerId).Find(&matches)
	if result.Error != nil {
		slog.Error("sql error listing matches for game share", "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	for _, match := range matches {
		if _, found, err := findLiveEdge(txn, FamilyMatch, ownerId, params.RecipientId, match.Id); err != nil {
			return err
		} else if found {
			continue
		}
		matchEdge := schema.MatchShare{
			Id: uuid.New(), OwnerId: ownerId, RecipientId: params.RecipientId,
			MatchId: match.Id, Permission: params.Permission, Status: schema.SharePending,
			ParentShareId: &edge.Id,
		}
		if err := createEdge(txn, &matchEdge); err != nil {
			return err
		}
	}

	return nil
}

// createMatchShare auto-accepts when the recipient already accepted a share
// of the match's game from this owner.
func (s *ShareService) createMatchShare(txn *gorm.DB, shareId, ownerId uuid.UUID, params createShareRequest) error {
	match, err := schema.GetMatch(params.EntityId, txn, false)
	if err != nil {
		return shareEntityErr(err, schema.ErrMatchNotFound)
	}

	edge := schema.MatchShare{
		Id: shareId, OwnerId: ownerId, RecipientId: params.RecipientId,
		MatchId: params.EntityId, Permission: params.Permission, Status: schema.SharePending,
	}

	gameEdge, accepted, err := hasAcceptedGameShare(txn, ownerId, params.RecipientId, match.GameId)
	if err != nil {
		return err
	}
	if accepted {
		edge.Status = schema.ShareAccepted
		edge.AutoAccepted = true
		edge.ParentShareId = &gameEdge.Id
	}

	return createEdge(txn, &edge)
}

// setEdgeStatus performs a status transition on one edge row, returning the
// edge's owner, recipient, and whether any row changed.
type edgeMeta struct {
	OwnerId     uuid.UUID
	RecipientId uuid.UUID
	Status      string
}

func loadEdgeMeta(txn *gorm.DB, family string, shareId uuid.UUID) (edgeMeta, error) {
	load := func(dest interface{}) (int64, error) {
		result := txn.Limit(1).Find(dest, "id = ?", shareId)
		if result.Error != nil {
			slog.Error("sql error loading share edge", "family", family, "share_id", shareId, "error", result.Error)
			return 0, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return result.RowsAffected, nil
	}

	var meta edgeMeta
	var rows int64
	var err error

	switch family {
	case FamilyGame:
		var edge schema.GameShare
		if rows, err = load(&edge); rows != 0 {
			meta = edgeMeta{edge.OwnerId, edge.RecipientId, edge.Status}
		}
	case FamilyScoresheet:
		var edge schema.ScoresheetShare
		if rows, err = load(&edge); rows != 0 {
			meta = edgeMeta{edge.OwnerId, edge.RecipientId, edge.Status}
		}
	case FamilyRound:
		var edge schema.RoundShare
		if rows, err = load(&edge); rows != 0 {
			meta = edgeMeta{edge.OwnerId, edge.RecipientId, edge.Status}
		}
	case FamilyMatch:
		var edge schema.MatchShare
		if rows, err = load(&edge); rows != 0 {
			meta = edgeMeta{edge.OwnerId, edge.RecipientId, edge.Status}
		}
	case FamilyPlayer:
		var edge schema.PlayerShare
		if rows, err = load(&edge); rows != 0 {
			meta = edgeMeta{edge.OwnerId, edge.RecipientId, edge.Status}
		}
	case FamilyRole:
		var edge schema.GameRoleShare
		if rows, err = load(&edge); rows != 0 {
			meta = edgeMeta{edge.OwnerId, edge.RecipientId, edge.Status}
		}
	}
	if err != nil {
		return edgeMeta{}, err
	}
	if rows == 0 {
		return edgeMeta{}, CodedError(resolve.ErrNotVisible, http.StatusNotFound)
	}
	return meta, nil
}

func familyModel(family string) interface{} {
	switch family {
	case FamilyGame:
		return &schema.GameShare{}
	case FamilyScoresheet:
		return &schema.ScoresheetShare{}
	case FamilyRound:
		return &schema.RoundShare{}
	case FamilyMatch:
		return &schema.MatchShare{}
	case FamilyPlayer:
		return &schema.PlayerShare{}
	case FamilyRole:
		return &schema.GameRoleShare{}
	}
	return nil
}

func updateEdgeStatus(txn *gorm.DB, family string, shareId uuid.UUID, from []string, to string) error {
	result := txn.Model(familyModel(family)).
		Where("id = ? AND status IN ?", shareId, from).
		Update("status", to)
	if result.Error != nil {
		slog.Error("sql error updating share status", "family", family, "share_id", shareId, "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	return nil
}

// cascadeStatus applies a status transition to child edges spawned from a
// parent edge, recursively for scoresheet children's rounds.
func cascadeStatus(txn *gorm.DB, family string, shareId uuid.UUID, from []string, to string) error {
	cascadeTo := func(child string) error {
		result := txn.Model(familyModel(child)).
			Where("parent_share_id = ? AND status IN ?", shareId, from).
			Update("status", to)
		if result.Error != nil {
			slog.Error("sql error cascading share status", "family", child, "parent_share_id", shareId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	}

	switch family {
	case FamilyGame:
		var sheetEdges []schema.ScoresheetShare
		result := txn.Where("parent_share_id = ?", shareId).Find(&sheetEdges)
		if result.Error != nil {
			slog.Error("sql error listing child scoresheet shares", "parent_share_id", shareId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if err := cascadeTo(FamilyScoresheet); err != nil {
			return err
		}
		for _, sheetEdge := range sheetEdges {
			if err := cascadeStatus(txn, FamilyScoresheet, sheetEdge.Id, from, to); err != nil {
				return err
			}
		}
		if err := cascadeTo(FamilyRole); err != nil {
			return err
		}
		if err := cascadeTo(FamilyMatch); err != nil {
			return err
		}
	case FamilyScoresheet:
		if err := cascadeTo(FamilyRound); err != nil {
			return err
		}
	}
	return nil
}

func (s *ShareService) transition(w http.ResponseWriter, r *http.Request, asOwner bool, from []string, to string, code logging.LogCode) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	family, err := utils.URLParam(r, "family")
	if err != nil || !validFamily(family) {
		http.Error(w, fmt.Sprintf("invalid share family '%v'", family), http.StatusUnprocessableEntity)
		return
	}
	shareId, err := utils.URLParamUUID(r, "share_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		meta, err := loadEdgeMeta(txn, family, shareId)
		if err != nil {
			return err
		}

		allowed := meta.RecipientId
		if asOwner {
			allowed = meta.OwnerId
		}
		if user.Id != allowed {
			return CodedError(resolve.ErrNotVisible, http.StatusNotFound)
		}

		if meta.Status == to {
			return nil // idempotent
		}

		if err := updateEdgeStatus(txn, family, shareId, from, to); err != nil {
			return err
		}
		return cascadeStatus(txn, family, shareId, from, to)
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error updating share: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("share status updated", "family", family, "share_id", shareId, "status", to, "code", code)

	utils.WriteSuccess(w)
}

func (s *ShareService) Accept(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, false, []string{schema.SharePending}, schema.ShareAccepted, logging.SHARE_ACCEPT)
}

func (s *ShareService) Decline(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, false, []string{schema.SharePending}, schema.ShareDeclined, logging.SHARE_ACCEPT)
}

func (s *ShareService) Revoke(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, true, []string{schema.SharePending, schema.ShareAccepted}, schema.ShareRevoked, logging.SHARE_REVOKE)
}

type linkRequest struct {
	TargetId uuid.UUID `json:"target_id"`
}

// linkColumn maps a family to its link column; match shares carry no link.
func linkColumn(family string) string {
	switch family {
	case FamilyGame:
		return "linked_game_id"
	case FamilyScoresheet:
		return "linked_scoresheet_id"
	case FamilyRound:
		return "linked_round_id"
	case FamilyPlayer:
		return "linked_player_id"
	case FamilyRole:
		return "linked_game_role_id"
	}
	return ""
}

// checkLinkTarget verifies the link target exists and is owned by the
// recipient.
func checkLinkTarget(txn *gorm.DB, family string, targetId, recipientId uuid.UUID) error {
	var count int64
	var result *gorm.DB

	switch family {
	case FamilyGame:
		result = txn.Model(&schema.Game{}).Where("id = ? AND created_by = ?", targetId, recipientId).Count(&count)
	case FamilyScoresheet:
		result = txn.Model(&schema.Scoresheet{}).Where("id = ? AND created_by = ?", targetId, recipientId).Count(&count)
	case FamilyRound:
		result = txn.Model(&schema.Round{}).
			Joins("JOIN scoresheets ON scoresheets.id = rounds.scoresheet_id").
			Where("rounds.id = ? AND scoresheets.created_by = ? AND scoresheets.deleted_at IS NULL", targetId, recipientId).
			Count(&count)
	case FamilyPlayer:
		result = txn.Model(&schema.Player{}).Where("id = ? AND created_by = ?", targetId, recipientId).Count(&count)
	case FamilyRole:
		result = txn.Model(&schema.GameRole{}).Where("id = ? AND created_by = ?", targetId, recipientId).Count(&count)
	}

	if result.Error != nil {
		slog.Error("sql error checking link target", "family", family, "target_id", targetId, "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	if count == 0 {
		return CodedError(resolve.ErrNotVisible, http.StatusNotFound)
	}
	return nil
}

func (s *ShareService) setLink(w http.ResponseWriter, r *http.Request, target *uuid.UUID) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	family, err := utils.URLParam(r, "family")
	if err != nil || linkColumn(family) == "" {
		http.Error(w, fmt.Sprintf("share family '%v' does not support linking", family), http.StatusUnprocessableEntity)
		return
	}
	shareId, err := utils.URLParamUUID(r, "share_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		meta, err := loadEdgeMeta(txn, family, shareId)
		if err != nil {
			return err
		}
		// Only the recipient may link, and only on an accepted edge.
		if user.Id != meta.RecipientId {
			return CodedError(resolve.ErrNotVisible, http.StatusNotFound)
		}
		if meta.Status != schema.ShareAccepted {
			return CodedError(errors.New("only accepted shares can be linked"), http.StatusUnprocessableEntity)
		}

		if target != nil {
			if err := checkLinkTarget(txn, family, *target, user.Id); err != nil {
				return err
			}
		}

		result := txn.Model(familyModel(family)).Where("id = ?", shareId).Update(linkColumn(family), target)
		if result.Error != nil {
			slog.Error("sql error updating share link", "family", family, "share_id", shareId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error updating share link: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("share link updated", "family", family, "share_id", shareId, "linked", target != nil, "code", logging.SHARE_LINK)

	utils.WriteSuccess(w)
}

func (s *ShareService) Link(w http.ResponseWriter, r *http.Request) {
	var params linkRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.TargetId == uuid.Nil {
		http.Error(w, "link target must be specified", http.StatusBadRequest)
		return
	}
	s.setLink(w, r, &params.TargetId)
}

func (s *ShareService) Unlink(w http.ResponseWriter, r *http.Request) {
	s.setLink(w, r, nil)
}

type ShareInfo struct {
	Id          uuid.UUID `json:"id"`
	Family      string    `json:"family"`
	EntityId    uuid.UUID `json:"entity_id"`
	OwnerId     uuid.UUID `json:"owner_id"`
	RecipientId uuid.UUID `json:"recipient_id"`
	Permission  string    `json:"permission"`
	Status      string    `json:"status"`

	LinkedId *uuid.UUID `json:"linked_id,omitempty"`
}

func (s *ShareService) listShares(txn *gorm.DB, column string, userId uuid.UUID) ([]ShareInfo, error) {
	infos := []ShareInfo{}

	var games []schema.GameShare
	if result := txn.Where(column+" = ?", userId).Find(&games); result.Error != nil {
		return nil, result.Error
	}
	for _, e := range games {
		infos = append(infos, ShareInfo{e.Id, FamilyGame, e.GameId, e.OwnerId, e.RecipientId, e.Permission, e.Status, e.LinkedGameId})
	}

	var sheets []schema.ScoresheetShare
	if result := txn.Where(column+" = ?", userId).Find(&sheets); result.Error != nil {
		return nil, result.Error
	}
	for _, e := range sheets {
		infos = append(infos, ShareInfo{e.Id, FamilyScoresheet, e.ScoresheetId, e.OwnerId, e.RecipientId, e.Permission, e.Status, e.LinkedScoresheetId})
	}

	var rounds []schema.RoundShare
	if result := txn.Where(column+" = ?", userId).Find(&rounds); result.Error != nil {
		return nil, result.Error
	}
	for _, e := range rounds {
		infos = append(infos, ShareInfo{e.Id, FamilyRound, e.RoundId, e.OwnerId, e.RecipientId, e.Permission, e.Status, e.LinkedRoundId})
	}

	var matches []schema.MatchShare
	if result := txn.Where(column+" = ?", userId).Find(&matches); result.Error != nil {
		return nil, result.Error
	}
	for _, e := range matches {
		infos = append(infos, ShareInfo{e.Id, FamilyMatch, e.MatchId, e.OwnerId, e.RecipientId, e.Permission, e.Status, nil})
	}

	var players []schema.PlayerShare
	if result := txn.Where(column+" = ?", userId).Find(&players); result.Error != nil {
		return nil, result.Error
	}
	for _, e := range players {
		infos = append(infos, ShareInfo{e.Id, FamilyPlayer, e.PlayerId, e.OwnerId, e.RecipientId, e.Permission, e.Status, e.LinkedPlayerId})
	}

	var roles []schema.GameRoleShare
	if result := txn.Where(column+" = ?", userId).Find(&roles); result.Error != nil {
		return nil, result.Error
	}
	for _, e := range roles {
		infos = append(infos, ShareInfo{e.Id, FamilyRole, e.GameRoleId, e.OwnerId, e.RecipientId, e.Permission, e.Status, e.LinkedGameRoleId})
	}

	return infos, nil
}

func (s *ShareService) list(w http.ResponseWriter, r *http.Request, column string) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var infos []ShareInfo
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		infos, err = s.listShares(txn, column, user.Id)
		if err != nil {
			slog.Error("sql error listing shares", "error", err)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing shares: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *ShareService) Incoming(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, "recipient_id")
}

func (s *ShareService) Outgoing(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, "owner_id")
}

type inviteResponse struct {
	Token string `json:"token"`
}

// CreateInvite issues a share invite token the owner can send out of band.
// Redeeming it accepts the share as the authenticated recipient.
func (s *ShareService) CreateInvite(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	family, err := utils.URLParam(r, "family")
	if err != nil || !validFamily(family) {
		http.Error(w, fmt.Sprintf("invalid share family '%v'", family), http.StatusUnprocessableEntity)
		return
	}
	shareId, err := utils.URLParamUUID(r, "share_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		meta, err := loadEdgeMeta(txn, family, shareId)
		if err != nil {
			return err
		}
		if user.Id != meta.OwnerId {
			return CodedError(resolve.ErrNotVisible, http.StatusNotFound)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error creating share invite: %v", err), GetResponseCode(err))
		return
	}

	token, err := s.inviteAuth.CreateShareInviteJwt(shareId, inviteTokenLifetime)
	if err != nil {
		http.Error(w, fmt.Sprintf("error creating share invite: %v", err), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, inviteResponse{Token: token})
}

type acceptInviteRequest struct {
	Family string `json:"family"`
	Token  string `json:"token"`
}

func (s *ShareService) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params acceptInviteRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if !validFamily(params.Family) {
		http.Error(w, fmt.Sprintf("invalid share family '%v'", params.Family), http.StatusUnprocessableEntity)
		return
	}

	shareId, err := s.inviteAuth.DecodeShareInviteJwt(params.Token)
	if err != nil {
		http.Error(w, "invalid or expired share invite", http.StatusUnauthorized)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		meta, err := loadEdgeMeta(txn, params.Family, shareId)
		if err != nil {
			return err
		}
		if user.Id != meta.RecipientId {
			return CodedError(resolve.ErrNotVisible, http.StatusNotFound)
		}
		if meta.Status == schema.ShareAccepted {
			return nil
		}

		from := []string{schema.SharePending}
		if err := updateEdgeStatus(txn, params.Family, shareId, from, schema.ShareAccepted); err != nil {
			return err
		}
		return cascadeStatus(txn, params.Family, shareId, from, schema.ShareAccepted)
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error accepting share invite: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("share invite accepted", "family", params.Family, "share_id", shareId, "code", logging.SHARE_ACCEPT)

	utils.WriteSuccess(w)
}
