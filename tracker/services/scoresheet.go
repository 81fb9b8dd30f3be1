package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"tallyboard/tracker/auth"
	"tallyboard/tracker/resolve"
	"tallyboard/tracker/schema"
	"tallyboard/tracker/storage"
	"tallyboard/utils"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ScoresheetService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *ScoresheetService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Post("/create", s.Create)

	r.Route("/{scoresheet_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Post("/update", s.Update)
		r.Delete("/", s.Delete)

		r.Get("/template", s.ExportTemplate)

		r.Post("/rounds", s.CreateRound)
		r.Post("/rounds/{round_id}/update", s.UpdateRound)
		r.Delete("/rounds/{round_id}", s.DeleteRound)
	})

	return r
}

type scoresheetRequest struct {
	GameId     uuid.UUID `json:"game_id"`
	GameShared bool      `json:"game_shared"`

	Name          string  `json:"name"`
	WinCondition  string  `json:"win_condition"`
	RoundsScoring string  `json:"rounds_scoring"`
	TargetScore   float64 `json:"target_score"`
	IsCoop        bool    `json:"is_coop"`
}

func (s *ScoresheetService) Create(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params scoresheetRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "scoresheet name must be specified", http.StatusBadRequest)
		return
	}
	if !schema.CheckValidWinCondition(params.WinCondition) {
		http.Error(w, fmt.Sprintf("invalid win condition '%v'", params.WinCondition), http.StatusUnprocessableEntity)
		return
	}

	gameRef := resolve.OriginalRef(params.GameId)
	if params.GameShared {
		gameRef = resolve.SharedRef(params.GameId)
	}

	sheet := schema.Scoresheet{
		Id:            uuid.New(),
		Name:          params.Name,
		WinCondition:  params.WinCondition,
		RoundsScoring: params.RoundsScoring,
		TargetScore:   params.TargetScore,
		IsCoop:        params.IsCoop,
		CreatedAt:     time.Now().UTC(),
	}
	if sheet.RoundsScoring == "" {
		sheet.RoundsScoring = schema.ScoringAggregate
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		resolver := resolve.New(txn, user.Id)
		identity, err := resolver.ResolveGame(gameRef)
		if err != nil {
			return resolveError(err)
		}
		if err := requireEdit(identity); err != nil {
			return err
		}

		game, err := loadGame(txn, gameRef, identity)
		if err != nil {
			return err
		}

		sheet.GameId = game.Id
		sheet.CreatedBy = game.CreatedBy

		result := txn.Create(&sheet)
		if result.Error != nil {
			slog.Error("sql error creating scoresheet", "game_id", game.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error creating scoresheet: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createResponse{Id: sheet.Id})
}

type RoundInfo struct {
	Id            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	Order         int       `json:"order"`
	Color         string    `json:"color,omitempty"`
	ScoreModifier float64   `json:"score_modifier,omitempty"`
	LookupValue   float64   `json:"lookup_value,omitempty"`
	DefaultScore  float64   `json:"default_score,omitempty"`
}

type ScoresheetInfo struct {
	Id            uuid.UUID   `json:"id"`
	Name          string      `json:"name"`
	WinCondition  string      `json:"win_condition"`
	RoundsScoring string      `json:"rounds_scoring"`
	TargetScore   float64     `json:"target_score"`
	IsCoop        bool        `json:"is_coop"`
	Rounds        []RoundInfo `json:"rounds"`

	Provenance string `json:"provenance"`
	Permission string `json:"permission"`
}

// loadScoresheet returns the underlying scoresheet row for a resolved
// identity, following the share edge when needed.
func loadScoresheet(txn *gorm.DB, identity resolve.Identity, loadRounds bool) (schema.Scoresheet, error) {
	sheetId := identity.CanonicalId
	if identity.Provenance == resolve.Shared {
		var edge schema.ScoresheetShare
		result := txn.Limit(1).Find(&edge, "id = ?", identity.CanonicalId)
		if result.Error != nil {
			slog.Error("sql error loading scoresheet share edge", "edge_id", identity.CanonicalId, "error", result.Error)
			return schema.Scoresheet{}, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected == 0 {
			return schema.Scoresheet{}, CodedError(resolve.ErrNotVisible, http.StatusNotFound)
		}
		sheetId = edge.ScoresheetId
	}

	sheet, err := schema.GetScoresheet(sheetId, txn, loadRounds)
	if err != nil {
		if errors.Is(err, schema.ErrScoresheetNotFound) {
			return schema.Scoresheet{}, CodedError(resolve.ErrNotVisible, http.StatusNotFound)
		}
		return schema.Scoresheet{}, CodedError(err, http.StatusInternalServerError)
	}
	return sheet, nil
}

func scoresheetInfo(sheet schema.Scoresheet, identity resolve.Identity) ScoresheetInfo {
	info := ScoresheetInfo{
		Id:            identity.CanonicalId,
		Name:          sheet.Name,
		WinCondition:  sheet.WinCondition,
		RoundsScoring: sheet.RoundsScoring,
		TargetScore:   sheet.TargetScore,
		IsCoop:        sheet.IsCoop,
		Rounds:        make([]RoundInfo, 0, len(sheet.Rounds)),
		Provenance:    string(identity.Provenance),
		Permission:    identity.Permission.String(),
	}
	for _, round := range sheet.Rounds {
		info.Rounds = append(info.Rounds, RoundInfo{
			Id:            round.Id,
			Name:          round.Name,
			Type:          round.Type,
			Order:         round.Order,
			Color:         round.Color,
			ScoreModifier: round.ScoreModifier,
			LookupValue:   round.LookupValue,
			DefaultScore:  round.DefaultScore,
		})
	}
	return info
}

func (s *ScoresheetService) Get(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ref, err := refFromRequest(r, "scoresheet_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var info ScoresheetInfo
	err = s.db.Transaction(func(txn *gorm.DB) error {
		resolver := resolve.New(txn, user.Id)
		identity, err := resolver.ResolveScoresheet(ref)
		if err != nil {
			return resolveError(err)
		}

		sheet, err := loadScoresheet(txn, identity, true)
		if err != nil {
			return err
		}

		info = scoresheetInfo(sheet, identity)
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error getting scoresheet: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, info)
}

func (s *ScoresheetService) Update(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ref, err := refFromRequest(r, "scoresheet_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params scoresheetRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		resolver := resolve.New(txn, user.Id)
		identity, err := resolver.ResolveScoresheet(ref)
		if err != nil {
			return resolveError(err)
		}
		if err := requireEdit(identity); err != nil {
			return err
		}

		sheet, err := loadScoresheet(txn, identity, false)
		if err != nil {
			return err
		}

		if params.Name != "" {
			sheet.Name = params.Name
		}
		if params.WinCondition != "" {
			if !schema.CheckValidWinCondition(params.WinCondition) {
				return CodedError(fmt.Errorf("invalid win condition '%v'", params.WinCondition), http.StatusUnprocessableEntity)
			}
			sheet.WinCondition = params.WinCondition
		}
		if params.RoundsScoring != "" {
			sheet.RoundsScoring = params.RoundsScoring
		}
		sheet.TargetScore = params.TargetScore
		sheet.IsCoop = params.IsCoop

		result := txn.Save(&sheet)
		if result.Error != nil {
			slog.Error("sql error updating scoresheet", "scoresheet_id", sheet.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error updating scoresheet: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *ScoresheetService) Delete(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sheetId, err := utils.URLParamUUID(r, "scoresheet_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		sheet, err := schema.GetScoresheet(sheetId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrScoresheetNotFound) {
				return CodedError(resolve.ErrNotVisible, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}
		if sheet.CreatedBy != user.Id {
			return CodedError(resolve.ErrNotVisible, http.StatusNotFound)
		}

		result := txn.Delete(&schema.Scoresheet{Id: sheetId})
		if result.Error != nil {
			slog.Error("sql error deleting scoresheet", "scoresheet_id", sheetId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting scoresheet: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *ScoresheetService) ExportTemplate(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ref, err := refFromRequest(r, "scoresheet_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var sheet schema.Scoresheet
	err = s.db.Transaction(func(txn *gorm.DB) error {
		resolver := resolve.New(txn, user.Id)
		identity, err := resolver.ResolveScoresheet(ref)
		if err != nil {
			return resolveError(err)
		}

		sheet, err = loadScoresheet(txn, identity, true)
		return err
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error exporting scoresheet template: %v", err), GetResponseCode(err))
		return
	}

	data, err := storage.ExportTemplate(sheet)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	if _, err := w.Write(data); err != nil {
		slog.Error("error writing scoresheet template response", "scoresheet_id", sheet.Id, "error", err)
	}
}

type roundParams struct {
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Order         int     `json:"order"`
	Color         string  `json:"color"`
	ScoreModifier float64 `json:"score_modifier"`
	LookupValue   float64 `json:"lookup_value"`
	DefaultScore  float64 `json:"default_score"`
}

func (s *ScoresheetService) CreateRound(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ref, err := refFromRequest(r, "scoresheet_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params roundParams
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Type != schema.RoundNumeric && params.Type != schema.RoundCheckbox {
		http.Error(w, fmt.Sprintf("invalid round type '%v'", params.Type), http.StatusUnprocessableEntity)
		return
	}

	round := schema.Round{
		Id:            uuid.New(),
		Name:          params.Name,
		Type:          params.Type,
		Order:         params.Order,
		Color:         params.Color,
		ScoreModifier: params.ScoreModifier,
		LookupValue:   params.LookupValue,
		DefaultScore:  params.DefaultScore,
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		resolver := resolve.New(txn, user.Id)
		identity, err := resolver.ResolveScoresheet(ref)
		if err != nil {
			return resolveError(err)
		}
		if err := requireEdit(identity); err != nil {
			return err
		}

		sheet, err := loadScoresheet(txn, identity, false)
		if err != nil {
			return err
		}

		round.ScoresheetId = sheet.Id

		result := txn.Create(&round)
		if result.Error != nil {
			slog.Error("sql error creating round", "scoresheet_id", sheet.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error creating round: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createResponse{Id: round.Id})
}

// roundInScoresheet verifies that a round row belongs to the resolved
// scoresheet before any mutation touches it.
func roundInScoresheet(txn *gorm.DB, roundId, scoresheetId uuid.UUID) (schema.Round, error) {
	round, err := schema.GetRound(roundId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrRoundNotFound) {
			return schema.Round{}, CodedError(resolve.ErrNotVisible, http.StatusNotFound)
		}
		return schema.Round{}, CodedError(err, http.StatusInternalServerError)
	}
	if round.ScoresheetId != scoresheetId {
		return schema.Round{}, CodedError(resolve.ErrNotVisible, http.StatusNotFound)
	}
	return round, nil
}

func (s *ScoresheetService) UpdateRound(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ref, err := refFromRequest(r, "scoresheet_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	roundId, err := utils.URLParamUUID(r, "round_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params roundParams
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		resolver := resolve.New(txn, user.Id)
		identity, err := resolver.ResolveScoresheet(ref)
		if err != nil {
			return resolveError(err)
		}
		if err := requireEdit(identity); err != nil {
			return err
		}

		sheet, err := loadScoresheet(txn, identity, false)
		if err != nil {
			return err
		}

		round, err := roundInScoresheet(txn, roundId, sheet.Id)
		if err != nil {
			return err
		}

		if params.Name != "" {
			round.Name = params.Name
		}
		if params.Type != "" {
			if params.Type != schema.RoundNumeric && params.Type != schema.RoundCheckbox {
				return CodedError(fmt.Errorf("invalid round type '%v'", params.Type), http.StatusUnprocessableEntity)
			}
			round.Type = params.Type
		}
		round.Order = params.Order
		round.Color = params.Color
		round.ScoreModifier = params.ScoreModifier
		round.LookupValue = params.LookupValue
		round.DefaultScore = params.DefaultScore

		result := txn.Save(&round)
		if result.Error != nil {
			slog.Error("sql error updating round", "round_id", roundId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error updating round: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *ScoresheetService) DeleteRound(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ref, err := refFromRequest(r, "scoresheet_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	roundId, err := utils.URLParamUUID(r, "round_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		resolver := resolve.New(txn, user.Id)
		identity, err := resolver.ResolveScoresheet(ref)
		if err != nil {
			return resolveError(err)
		}
		if err := requireEdit(identity); err != nil {
			return err
		}

		sheet, err := loadScoresheet(txn, identity, false)
		if err != nil {
			return err
		}

		if _, err := roundInScoresheet(txn, roundId, sheet.Id); err != nil {
			return err
		}

		result := txn.Delete(&schema.Round{Id: roundId})
		if result.Error != nil {
			slog.Error("sql error deleting round", "round_id", roundId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting round: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}
