package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"tallyboard/tracker/auth"
	"tallyboard/tracker/placement"
	"tallyboard/tracker/resolve"
	"tallyboard/tracker/schema"
	"tallyboard/utils"
	"tallyboard/utils/logging"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MatchService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *MatchService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Post("/create", s.Create)
	r.Get("/list", s.List)

	r.Route("/{match_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Post("/update", s.Update)
		r.Delete("/", s.Delete)

		r.Post("/pause", s.Pause)
		r.Post("/resume", s.Resume)

		r.Post("/players/{match_player_id}/score", s.UpdateScore)
		r.Post("/players/{match_player_id}/rounds/{round_id}", s.UpdateRoundScore)

		r.Post("/finish", s.Finish)
		r.Post("/winners", s.ConfirmWinners)
		r.Post("/tiebreak", s.ConfirmTieBreak)
	})

	return r
}

type matchPlayerParams struct {
	PlayerId uuid.UUID `json:"player_id"`
	Shared   bool      `json:"shared"`

	TeamIndex *int        `json:"team_index"`
	Order     int         `json:"order"`
	Details   string      `json:"details"`
	RoleIds   []uuid.UUID `json:"role_ids"`
}

type createMatchRequest struct {
	GameId     uuid.UUID `json:"game_id"`
	GameShared bool      `json:"game_shared"`

	ScoresheetId     uuid.UUID `json:"scoresheet_id"`
	ScoresheetShared bool      `json:"scoresheet_shared"`

	Name       string     `json:"name"`
	Date       time.Time  `json:"date"`
	LocationId *uuid.UUID `json:"location_id"`

	Teams   []string            `json:"teams"`
	Players []matchPlayerParams `json:"players"`
}

// forkScoresheet snapshots a scoresheet and its rounds for a match so later
// template edits never rewrite recorded history. Parent ids anchor the fork
// to the template's lineage.
func forkScoresheet(txn *gorm.DB, template schema.Scoresheet, matchId, ownerId uuid.UUID) (schema.Scoresheet, error) {
	templateId := template.Id
	fork := template
	fork.Id = uuid.New()
	fork.ParentId = &templateId
	fork.ForkedForMatchId = &matchId
	fork.CreatedBy = ownerId
	fork.CreatedAt = time.Now().UTC()
	fork.Rounds = nil

	if result := txn.Create(&fork); result.Error != nil {
		slog.Error("sql error forking scoresheet", "scoresheet_id", templateId, "error", result.Error)
		return schema.Scoresheet{}, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	for _, round := range template.Rounds {
		parentId := round.Id
		forkRound := round
		forkRound.Id = uuid.New()
		forkRound.ScoresheetId = fork.Id
		forkRound.ParentId = &parentId

		if result := txn.Create(&forkRound); result.Error != nil {
			slog.Error("sql error forking round", "round_id", parentId, "error", result.Error)
			return schema.Scoresheet{}, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
	}

	return fork, nil
}

func (s *MatchService) Create(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params createMatchRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if len(params.Players) == 0 {
		http.Error(w, "a match requires at least one player", http.StatusBadRequest)
		return
	}

	gameRef := resolve.OriginalRef(params.GameId)
	if params.GameShared {
		gameRef = resolve.SharedRef(params.GameId)
	}
	sheetRef := resolve.OriginalRef(params.ScoresheetId)
	if params.ScoresheetShared {
		sheetRef = resolve.SharedRef(params.ScoresheetId)
	}

	matchId := uuid.New()
	date := params.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		resolver := resolve.New(txn, user.Id)

		gameIdentity, err := resolver.ResolveGame(gameRef)
		if err != nil {
			return resolveError(err)
		}
		game, err := loadGame(txn, gameRef, gameIdentity)
		if err != nil {
			return err
		}

		sheetIdentity, err := resolver.ResolveScoresheet(sheetRef)
		if err != nil {
			return resolveError(err)
		}
		template, err := loadScoresheet(txn, sheetIdentity, true)
		if err != nil {
			return err
		}
		if template.GameId != game.Id {
			return CodedError(errors.New("scoresheet does not belong to the match's game"), http.StatusUnprocessableEntity)
		}

		fork, err := forkScoresheet(txn, template, matchId, user.Id)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		match := schema.Match{
			Id:            matchId,
			Name:          params.Name,
			Date:          date,
			GameId:        game.Id,
			ScoresheetId:  fork.Id,
			LocationId:    params.LocationId,
			Running:       true,
			LastResumedAt: &now,
			FinishState:   schema.MatchRunning,
			CreatedBy:     user.Id,
			CreatedAt:     now,
		}
		if result := txn.Create(&match); result.Error != nil {
			slog.Error("sql error creating match", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		teamIds := make([]uuid.UUID, 0, len(params.Teams))
		for _, teamName := range params.Teams {
			team := schema.MatchTeam{Id: uuid.New(), MatchId: matchId, Name: teamName}
			if result := txn.Create(&team); result.Error != nil {
				slog.Error("sql error creating match team", "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
			teamIds = append(teamIds, team.Id)
		}

		for _, p := range params.Players {
			playerRef := resolve.OriginalRef(p.PlayerId)
			if p.Shared {
				playerRef = resolve.SharedRef(p.PlayerId)
			}
			playerIdentity, err := resolver.ResolvePlayer(playerRef)
			if err != nil {
				return resolveError(err)
			}
			player, err := loadPlayer(txn, playerIdentity)
			if err != nil {
				return err
			}

			mp := schema.MatchPlayer{
				Id:       uuid.New(),
				MatchId:  matchId,
				PlayerId: player.Id,
				Order:    p.Order,
				Details:  p.Details,
			}
			if p.TeamIndex != nil {
				if *p.TeamIndex < 0 || *p.TeamIndex >= len(teamIds) {
					return CodedError(fmt.Errorf("team index %v is out of range", *p.TeamIndex), http.StatusUnprocessableEntity)
				}
				mp.TeamId = &teamIds[*p.TeamIndex]
			}
			if result := txn.Create(&mp); result.Error != nil {
				slog.Error("sql error creating match player", "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}

			for _, roleId := range p.RoleIds {
				role, err := schema.GetGameRole(roleId, txn)
				if err != nil {
					if errors.Is(err, schema.ErrRoleNotFound) {
						return CodedError(resolve.ErrNotVisible, http.StatusNotFound)
					}
					return CodedError(err, http.StatusInternalServerError)
				}
				if role.GameId != game.Id {
					return CodedError(errors.New("role does not belong to the match's game"), http.StatusUnprocessableEntity)
				}

				assignment := schema.MatchPlayerRole{MatchPlayerId: mp.Id, GameRoleId: roleId}
				if result := txn.Create(&assignment); result.Error != nil {
					slog.Error("sql error assigning match player role", "error", result.Error)
					return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
				}
			}
		}

		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error creating match: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("created match", "match_id", matchId, "code", logging.MATCH_CREATE)

	utils.WriteJsonResponse(w, createResponse{Id: matchId})
}

// loadMatchForViewer resolves a match reference and returns the underlying
// row. Mutations additionally require edit permission on the identity.
func loadMatchForViewer(txn *gorm.DB, viewerId uuid.UUID, ref resolve.Ref, loadPlayers bool) (schema.Match, resolve.Identity, error) {
	resolver := resolve.New(txn, viewerId)
	identity, err := resolver.ResolveMatch(ref)
	if err != nil {
		return schema.Match{}, resolve.Identity{}, resolveError(err)
	}

	matchId := identity.CanonicalId
	if identity.Provenance == resolve.Shared {
		var edge schema.MatchShare
		result := txn.Limit(1).Find(&edge, "id = ?", identity.CanonicalId)
		if result.Error != nil {
			slog.Error("sql error loading match share edge", "edge_id", identity.CanonicalId, "error", result.Error)
			return schema.Match{}, resolve.Identity{}, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected == 0 {
			return schema.Match{}, resolve.Identity{}, CodedError(resolve.ErrNotVisible, http.StatusNotFound)
		}
		matchId = edge.MatchId
	}

	match, err := schema.GetMatch(matchId, txn, loadPlayers)
	if err != nil {
		if errors.Is(err, schema.ErrMatchNotFound) {
			return schema.Match{}, resolve.Identity{}, CodedError(resolve.ErrNotVisible, http.StatusNotFound)
		}
		return schema.Match{}, resolve.Identity{}, CodedError(err, http.StatusInternalServerError)
	}
	return match, identity, nil
}

type MatchPlayerInfo struct {
	Id        uuid.UUID  `json:"id"`
	PlayerId  uuid.UUID  `json:"player_id"`
	Name      string     `json:"name"`
	NotShared bool       `json:"not_shared"`
	Score     *float64   `json:"score"`
	Placement *int       `json:"placement"`
	Winner    bool       `json:"winner"`
	TeamId    *uuid.UUID `json:"team_id,omitempty"`
	Order     int        `json:"order"`
	Details   string     `json:"details,omitempty"`
}

type MatchInfo struct {
	Id           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Date         time.Time `json:"date"`
	ScoresheetId uuid.UUID `json:"scoresheet_id"`
	Duration     int       `json:"duration"`
	Running      bool      `json:"running"`
	FinishState  string    `json:"finish_state"`
	Finished     bool      `json:"finished"`
	Comment      string    `json:"comment,omitempty"`

	Provenance string `json:"provenance"`
	Permission string `json:"permission"`

	Players []MatchPlayerInfo `json:"players"`
}

// currentDuration includes elapsed time since the last resume for running
// matches.
func currentDuration(match schema.Match) int {
	duration := match.Duration
	if match.Running && match.LastResumedAt != nil {
		duration += int(time.Since(*match.LastResumedAt).Seconds())
	}
	return duration
}

func (s *MatchService) Get(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ref, err := refFromRequest(r, "match_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var info MatchInfo
	err = s.db.Transaction(func(txn *gorm.DB) error {
		match, identity, err := loadMatchForViewer(txn, user.Id, ref, true)
		if err != nil {
			return err
		}

		info = MatchInfo{
			Id:           identity.CanonicalId,
			Name:         match.Name,
			Date:         match.Date,
			ScoresheetId: match.ScoresheetId,
			Duration:     currentDuration(match),
			Running:      match.Running,
			FinishState:  match.FinishState,
			Finished:     match.Finished,
			Comment:      match.Comment,
			Provenance:   string(identity.Provenance),
			Permission:   identity.Permission.String(),
			Players:      make([]MatchPlayerInfo, 0, len(match.Players)),
		}

		resolver := resolve.New(txn, user.Id)
		for _, mp := range match.Players {
			playerInfo := MatchPlayerInfo{
				Id:        mp.Id,
				PlayerId:  mp.PlayerId,
				Score:     mp.Score,
				Placement: mp.Placement,
				Winner:    mp.Winner,
				TeamId:    mp.TeamId,
				Order:     mp.Order,
				Details:   mp.Details,
			}

			playerIdentity, err := resolver.ResolvePlayer(resolve.OriginalRef(mp.PlayerId))
			if err != nil {
				// Unshared participants stay in the listing without a
				// resolvable identity.
				playerInfo.NotShared = true
			} else {
				playerInfo.PlayerId = playerIdentity.CanonicalId
				if player, err := loadPlayer(txn, playerIdentity); err == nil {
					playerInfo.Name = player.Name
				}
			}

			info.Players = append(info.Players, playerInfo)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error getting match: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, info)
}

type MatchSummary struct {
	Id           uuid.UUID         `json:"id"`
	Date         time.Time         `json:"date"`
	Duration     int               `json:"duration"`
	WinCondition string            `json:"win_condition"`
	IsCoop       bool              `json:"is_coop"`
	PlayerCount  int               `json:"player_count"`
	Players      []MatchPlayerInfo `json:"players"`
}

func (s *MatchService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	scope := resolve.Scope{FinishedOnly: utils.QueryParamBool(r, "finished")}
	if gameIdStr := r.URL.Query().Get("game_id"); gameIdStr != "" {
		gameId, err := uuid.Parse(gameIdStr)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid game id '%v'", gameIdStr), http.StatusBadRequest)
			return
		}
		ref := resolve.OriginalRef(gameId)
		if utils.QueryParamBool(r, "shared") {
			ref = resolve.SharedRef(gameId)
		}
		scope.Game = &ref
	}

	var summaries []MatchSummary
	err = s.db.Transaction(func(txn *gorm.DB) error {
		rows, err := resolve.BuildMatchPlayerStream(txn, user.Id, scope)
		if err != nil {
			if errors.Is(err, resolve.ErrNotVisible) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}
		resolve.SortRowsByDate(rows)

		index := map[uuid.UUID]int{}
		for _, row := range rows {
			i, ok := index[row.MatchId]
			if !ok {
				index[row.MatchId] = len(summaries)
				summaries = append(summaries, MatchSummary{
					Id:           row.MatchId,
					Date:         row.MatchDate,
					Duration:     row.Duration,
					WinCondition: row.WinCondition,
					IsCoop:       row.IsCoop,
					PlayerCount:  row.PlayerCount,
				})
				i = len(summaries) - 1
			}
			summaries[i].Players = append(summaries[i].Players, MatchPlayerInfo{
				PlayerId:  row.PlayerId,
				NotShared: row.NotShared,
				Score:     row.Score,
				Placement: row.Placement,
				Winner:    row.Winner,
				TeamId:    row.TeamId,
			})
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing matches: %v", err), GetResponseCode(err))
		return
	}

	if summaries == nil {
		summaries = []MatchSummary{}
	}
	utils.WriteJsonResponse(w, summaries)
}

type updateMatchRequest struct {
	Name       string     `json:"name"`
	Date       *time.Time `json:"date"`
	Comment    string     `json:"comment"`
	LocationId *uuid.UUID `json:"location_id"`
}

func (s *MatchService) Update(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ref, err := refFromRequest(r, "match_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateMatchRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		match, identity, err := loadMatchForViewer(txn, user.Id, ref, false)
		if err != nil {
			return err
		}
		if err := requireEdit(identity); err != nil {
			return err
		}

		if params.Name != "" {
			match.Name = params.Name
		}
		if params.Date != nil {
			match.Date = *params.Date
		}
		match.Comment = params.Comment
		match.LocationId = params.LocationId

		result := txn.Save(&match)
		if result.Error != nil {
			slog.Error("sql error updating match", "match_id", match.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error updating match: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *MatchService) Delete(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	matchId, err := utils.URLParamUUID(r, "match_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		match, err := schema.GetMatch(matchId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrMatchNotFound) {
				return CodedError(resolve.ErrNotVisible, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}
		if match.CreatedBy != user.Id {
			return CodedError(resolve.ErrNotVisible, http.StatusNotFound)
		}

		result := txn.Delete(&schema.Match{Id: matchId})
		if result.Error != nil {
			slog.Error("sql error deleting match", "match_id", matchId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting match: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *MatchService) Pause(w http.ResponseWriter, r *http.Request) {
	s.setClock(w, r, false)
}

func (s *MatchService) Resume(w http.ResponseWriter, r *http.Request) {
	s.setClock(w, r, true)
}

func (s *MatchService) setClock(w http.ResponseWriter, r *http.Request, running bool) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ref, err := refFromRequest(r, "match_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		match, identity, err := loadMatchForViewer(txn, user.Id, ref, false)
		if err != nil {
			return err
		}
		if err := requireEdit(identity); err != nil {
			return err
		}
		if match.Finished {
			return CodedError(errors.New("match is already finished"), http.StatusUnprocessableEntity)
		}
		if match.Running == running {
			return nil // idempotent
		}

		now := time.Now().UTC()
		if running {
			match.Running = true
			match.LastResumedAt = &now
			match.FinishState = schema.MatchRunning
		} else {
			if match.LastResumedAt != nil {
				match.Duration += int(now.Sub(*match.LastResumedAt).Seconds())
			}
			match.Running = false
			match.LastResumedAt = nil
			match.FinishState = schema.MatchPaused
		}

		result := txn.Save(&match)
		if result.Error != nil {
			slog.Error("sql error updating match clock", "match_id", match.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error updating match clock: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type scoreRequest struct {
	Score *float64 `json:"score"`
}

// matchPlayerInMatch verifies that a match player row belongs to the resolved
// match before any mutation touches it.
func matchPlayerInMatch(txn *gorm.DB, matchPlayerId, matchId uuid.UUID) (schema.MatchPlayer, error) {
	var mp schema.MatchPlayer
	result := txn.Limit(1).Find(&mp, "id = ?", matchPlayerId)
	if result.Error != nil {
		slog.Error("sql error loading match player", "match_player_id", matchPlayerId, "error", result.Error)
		return schema.MatchPlayer{}, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	if result.RowsAffected == 0 || mp.MatchId != matchId {
		return schema.MatchPlayer{}, CodedError(resolve.ErrNotVisible, http.StatusNotFound)
	}
	return mp, nil
}

func (s *MatchService) UpdateScore(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ref, err := refFromRequest(r, "match_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	matchPlayerId, err := utils.URLParamUUID(r, "match_player_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params scoreRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		match, identity, err := loadMatchForViewer(txn, user.Id, ref, false)
		if err != nil {
			return err
		}
		if err := requireEdit(identity); err != nil {
			return err
		}
		if match.Finished {
			return CodedError(errors.New("cannot update scores of a finished match"), http.StatusUnprocessableEntity)
		}

		mp, err := matchPlayerInMatch(txn, matchPlayerId, match.Id)
		if err != nil {
			return err
		}

		result := txn.Model(&schema.MatchPlayer{Id: mp.Id}).Update("score", params.Score)
		if result.Error != nil {
			slog.Error("sql error updating match player score", "match_player_id", mp.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error updating score: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

// roundContribution is a round score's contribution to the aggregate total.
// A zero modifier means unmodified; checkbox rounds contribute their lookup
// value when checked.
func roundContribution(round schema.Round, score float64) float64 {
	if round.Type == schema.RoundCheckbox {
		if score > 0 {
			if round.LookupValue != 0 {
				return round.LookupValue
			}
			return score
		}
		return 0
	}
	if round.ScoreModifier != 0 {
		return score * round.ScoreModifier
	}
	return score
}

// recomputeTotal derives a match player's total from their round scores
// according to the scoresheet's rounds scoring mode. Manual mode leaves the
// total untouched.
func recomputeTotal(txn *gorm.DB, sheet schema.Scoresheet, matchPlayerId uuid.UUID) error {
	if sheet.RoundsScoring == schema.ScoringManual {
		return nil
	}

	roundsById := map[uuid.UUID]schema.Round{}
	for _, round := range sheet.Rounds {
		roundsById[round.Id] = round
	}

	var scores []schema.RoundScore
	result := txn.Where("match_player_id = ?", matchPlayerId).Find(&scores)
	if result.Error != nil {
		slog.Error("sql error loading round scores", "match_player_id", matchPlayerId, "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	var total *float64
	for _, rs := range scores {
		if rs.Score == nil {
			continue
		}
		round, ok := roundsById[rs.RoundId]
		if !ok {
			continue
		}
		value := roundContribution(round, *rs.Score)

		if total == nil {
			v := value
			total = &v
			continue
		}
		switch sheet.RoundsScoring {
		case schema.ScoringBest:
			if value > *total {
				*total = value
			}
		case schema.ScoringWorst:
			if value < *total {
				*total = value
			}
		default:
			*total += value
		}
	}

	result = txn.Model(&schema.MatchPlayer{Id: matchPlayerId}).Update("score", total)
	if result.Error != nil {
		slog.Error("sql error updating aggregated score", "match_player_id", matchPlayerId, "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	return nil
}

func (s *MatchService) UpdateRoundScore(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ref, err := refFromRequest(r, "match_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	matchPlayerId, err := utils.URLParamUUID(r, "match_player_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	roundId, err := utils.URLParamUUID(r, "round_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params scoreRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		match, identity, err := loadMatchForViewer(txn, user.Id, ref, false)
		if err != nil {
			return err
		}
		if err := requireEdit(identity); err != nil {
			return err
		}
		if match.Finished {
			return CodedError(errors.New("cannot update scores of a finished match"), http.StatusUnprocessableEntity)
		}

		mp, err := matchPlayerInMatch(txn, matchPlayerId, match.Id)
		if err != nil {
			return err
		}

		sheet, err := schema.GetScoresheet(match.ScoresheetId, txn, true)
		if err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}
		if _, err := roundInScoresheet(txn, roundId, sheet.Id); err != nil {
			return err
		}

		var existing schema.RoundScore
		result := txn.Limit(1).Find(&existing, "round_id = ? AND match_player_id = ?", roundId, mp.Id)
		if result.Error != nil {
			slog.Error("sql error loading round score", "round_id", roundId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected == 0 {
			existing = schema.RoundScore{Id: uuid.New(), RoundId: roundId, MatchPlayerId: mp.Id, Score: params.Score}
			if result := txn.Create(&existing); result.Error != nil {
				slog.Error("sql error creating round score", "round_id", roundId, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		} else {
			result := txn.Model(&schema.RoundScore{Id: existing.Id}).Update("score", params.Score)
			if result.Error != nil {
				slog.Error("sql error updating round score", "round_id", roundId, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		return recomputeTotal(txn, sheet, mp.Id)
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error updating round score: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type finishResponse struct {
	Outcome placement.Outcome `json:"outcome"`
}

// finishable lists the states a finish request may plan from. Awaiting states
// are handled before this check; their retries report the pending outcome
// without recomputing.
func finishable(state string) bool {
	switch state {
	case schema.MatchRunning, schema.MatchPaused:
		return true
	}
	return false
}

func entrantsFromPlayers(players []schema.MatchPlayer) []placement.Entrant {
	entrants := make([]placement.Entrant, 0, len(players))
	for _, mp := range players {
		if mp.Score == nil {
			// Unscored players stay unplaced.
			continue
		}
		entrants = append(entrants, placement.Entrant{Id: mp.Id, TeamId: mp.TeamId, Score: *mp.Score})
	}
	return entrants
}

func persistRanked(txn *gorm.DB, ranked []placement.Ranked, markWinners bool) error {
	for _, entry := range ranked {
		updates := map[string]interface{}{"placement": entry.Placement}
		if markWinners {
			updates["winner"] = entry.Winner
		}
		result := txn.Model(&schema.MatchPlayer{Id: entry.Id}).Updates(updates)
		if result.Error != nil {
			slog.Error("sql error persisting placement", "match_player_id", entry.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
	}
	return nil
}

func (s *MatchService) Finish(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ref, err := refFromRequest(r, "match_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var outcome placement.Outcome
	err = s.db.Transaction(func(txn *gorm.DB) error {
		match, identity, err := loadMatchForViewer(txn, user.Id, ref, true)
		if err != nil {
			return err
		}
		if err := requireEdit(identity); err != nil {
			return err
		}
		if match.Finished {
			return CodedError(errors.New("match is already finished"), http.StatusUnprocessableEntity)
		}

		// A retried finish while awaiting returns the pending outcome as is;
		// the match only advances through the winners or tiebreak endpoints.
		switch match.FinishState {
		case schema.MatchAwaitingManualWinner:
			outcome = placement.AwaitingManualWinner
			return nil
		case schema.MatchAwaitingTieBreak:
			outcome = placement.AwaitingTieBreak
			return nil
		}

		// Compare-and-set into the transient finishing state so concurrent
		// finish requests cannot interleave.
		result := txn.Model(&schema.Match{}).
			Where("id = ? AND finish_state = ?", match.Id, match.FinishState).
			Update("finish_state", schema.MatchFinishing)
		if result.Error != nil {
			slog.Error("sql error entering finishing state", "match_id", match.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected == 0 || !finishable(match.FinishState) {
			return CodedError(fmt.Errorf("match cannot be finished from state '%v'", match.FinishState), http.StatusConflict)
		}

		sheet, err := schema.GetScoresheet(match.ScoresheetId, txn, false)
		if err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}

		plan := placement.PlanFinish(entrantsFromPlayers(match.Players), sheet.WinCondition, sheet.TargetScore)
		outcome = plan.Outcome

		if err := persistRanked(txn, plan.Ranked, plan.Outcome == placement.AutoFinished); err != nil {
			return err
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{}
		switch plan.Outcome {
		case placement.AutoFinished:
			updates["finish_state"] = schema.MatchFinished
			updates["finished"] = true
		case placement.AwaitingManualWinner:
			updates["finish_state"] = schema.MatchAwaitingManualWinner
		case placement.AwaitingTieBreak:
			updates["finish_state"] = schema.MatchAwaitingTieBreak
		}
		if match.Running {
			duration := match.Duration
			if match.LastResumedAt != nil {
				duration += int(now.Sub(*match.LastResumedAt).Seconds())
			}
			updates["duration"] = duration
			updates["running"] = false
			updates["last_resumed_at"] = nil
		}

		result = txn.Model(&schema.Match{Id: match.Id}).Updates(updates)
		if result.Error != nil {
			slog.Error("sql error finishing match", "match_id", match.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error finishing match: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("finish requested", "outcome", outcome, "code", logging.MATCH_FINISH)

	utils.WriteJsonResponse(w, finishResponse{Outcome: outcome})
}

type winnersRequest struct {
	WinnerIds []uuid.UUID `json:"winner_ids"`
}

func (s *MatchService) ConfirmWinners(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ref, err := refFromRequest(r, "match_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params winnersRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		match, identity, err := loadMatchForViewer(txn, user.Id, ref, true)
		if err != nil {
			return err
		}
		if err := requireEdit(identity); err != nil {
			return err
		}
		if match.FinishState != schema.MatchAwaitingManualWinner {
			return CodedError(fmt.Errorf("match is not awaiting a manual winner (state '%v')", match.FinishState), http.StatusConflict)
		}

		inMatch := map[uuid.UUID]struct{}{}
		for _, mp := range match.Players {
			inMatch[mp.Id] = struct{}{}
		}
		winnerSet := map[uuid.UUID]struct{}{}
		for _, id := range params.WinnerIds {
			if _, ok := inMatch[id]; !ok {
				return CodedError(fmt.Errorf("winner %v is not a player in this match", id), http.StatusUnprocessableEntity)
			}
			winnerSet[id] = struct{}{}
		}
		for _, mp := range match.Players {
			_, winner := winnerSet[mp.Id]
			result := txn.Model(&schema.MatchPlayer{Id: mp.Id}).Update("winner", winner)
			if result.Error != nil {
				slog.Error("sql error marking winner", "match_player_id", mp.Id, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		result := txn.Model(&schema.Match{}).
			Where("id = ? AND finish_state = ?", match.Id, schema.MatchAwaitingManualWinner).
			Updates(map[string]interface{}{"finish_state": schema.MatchFinished, "finished": true})
		if result.Error != nil {
			slog.Error("sql error confirming winners", "match_id", match.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected == 0 {
			return CodedError(errors.New("match state changed while confirming winners"), http.StatusConflict)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error confirming winners: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("confirmed manual winners", "code", logging.MATCH_FINISH)

	utils.WriteSuccess(w)
}

type tieBreakRequest struct {
	OrderedIds []uuid.UUID `json:"ordered_ids"`
}

func (s *MatchService) ConfirmTieBreak(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ref, err := refFromRequest(r, "match_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params tieBreakRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		match, identity, err := loadMatchForViewer(txn, user.Id, ref, true)
		if err != nil {
			return err
		}
		if err := requireEdit(identity); err != nil {
			return err
		}
		if match.FinishState != schema.MatchAwaitingTieBreak {
			return CodedError(fmt.Errorf("match is not awaiting a tie break (state '%v')", match.FinishState), http.StatusConflict)
		}

		ranked := placement.ApplyTieBreakOrder(entrantsFromPlayers(match.Players), params.OrderedIds)
		for _, entry := range ranked {
			if entry.Placement == 0 {
				return CodedError(errors.New("tie break ordering must cover every scored player or team"), http.StatusUnprocessableEntity)
			}
		}

		if err := persistRanked(txn, ranked, true); err != nil {
			return err
		}

		result := txn.Model(&schema.Match{}).
			Where("id = ? AND finish_state = ?", match.Id, schema.MatchAwaitingTieBreak).
			Updates(map[string]interface{}{"finish_state": schema.MatchFinished, "finished": true})
		if result.Error != nil {
			slog.Error("sql error confirming tie break", "match_id", match.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected == 0 {
			return CodedError(errors.New("match state changed while confirming tie break"), http.StatusConflict)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error confirming tie break: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("confirmed tie break", "code", logging.MATCH_FINISH)

	utils.WriteSuccess(w)
}
