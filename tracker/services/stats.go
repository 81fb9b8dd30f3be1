package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"tallyboard/tracker/auth"
	"tallyboard/tracker/resolve"
	"tallyboard/tracker/schema"
	"tallyboard/tracker/stats"
	"tallyboard/utils"
	"tallyboard/utils/logging"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type StatsService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *StatsService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/games/{game_id}", s.GameStats)
	r.Get("/scoresheets/{scoresheet_id}", s.ScoresheetStats)

	return r
}

// viewerPlayerId finds the viewer's own player record for win-rate headers.
// Viewers without one get header stats with a zero win rate.
func viewerPlayerId(txn *gorm.DB, userId uuid.UUID) (uuid.UUID, error) {
	player, err := schema.GetUserPlayer(userId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrPlayerNotFound) {
			return uuid.Nil, nil
		}
		return uuid.Nil, CodedError(err, http.StatusInternalServerError)
	}
	return player.Id, nil
}

func (s *StatsService) GameStats(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ref, err := refFromRequest(r, "game_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var result stats.GameStats
	err = s.db.Transaction(func(txn *gorm.DB) error {
		resolver := resolve.New(txn, user.Id)
		if _, err := resolver.ResolveGame(ref); err != nil {
			return resolveError(err)
		}

		rows, err := resolve.BuildMatchPlayerStream(txn, user.Id, resolve.Scope{Game: &ref, FinishedOnly: true})
		if err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}

		selfId, err := viewerPlayerId(txn, user.Id)
		if err != nil {
			return err
		}

		result = stats.ComputeGameStats(rows, selfId)
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error computing game stats: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("computed game stats", "code", logging.STATS_QUERY)

	utils.WriteJsonResponse(w, result)
}

// collectRoundSamples turns a deduped stream into per-round samples by
// joining each representative row's round scores against the rounds of the
// match's forked scoresheet.
func collectRoundSamples(txn *gorm.DB, resolver *resolve.Resolver, rows []resolve.MatchPlayerRow, lineageId uuid.UUID) ([]stats.RoundSample, error) {
	samples := make([]stats.RoundSample, 0)

	for _, row := range rows {
		if row.NotShared || row.ScoresheetLineageId != lineageId {
			continue
		}

		var scores []schema.RoundScore
		result := txn.Where("match_player_id = ?", row.RawRowId).Find(&scores)
		if result.Error != nil {
			slog.Error("sql error loading round scores for stats", "match_player_id", row.RawRowId, "error", result.Error)
			return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		for _, rs := range scores {
			round, err := schema.GetRound(rs.RoundId, txn)
			if err != nil {
				if errors.Is(err, schema.ErrRoundNotFound) {
					continue
				}
				return nil, CodedError(err, http.StatusInternalServerError)
			}

			samples = append(samples, stats.RoundSample{
				RoundLineageId:      resolver.RoundLineage(round.Id),
				RoundName:           round.Name,
				RoundType:           round.Type,
				ScoresheetLineageId: row.ScoresheetLineageId,
				WinCondition:        row.WinCondition,
				PlayerId:            row.PlayerId,
				Score:               rs.Score,
			})
		}
	}

	return samples, nil
}

func (s *StatsService) ScoresheetStats(w http.ResponseWriter, r *http.Request) {
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

	var result []stats.ScoresheetStats
	err = s.db.Transaction(func(txn *gorm.DB) error {
		resolver := resolve.New(txn, user.Id)
		identity, err := resolver.ResolveScoresheet(ref)
		if err != nil {
			return resolveError(err)
		}

		sheet, err := loadScoresheet(txn, identity, false)
		if err != nil {
			return err
		}
		lineageId := resolver.ScoresheetLineage(sheet.Id)

		gameRef := resolve.OriginalRef(sheet.GameId)
		rows, err := resolve.BuildMatchPlayerStream(txn, user.Id, resolve.Scope{Game: &gameRef, FinishedOnly: true})
		if err != nil {
			if errors.Is(err, resolve.ErrNotVisible) {
				// The sheet's game itself is not in the viewer's scope; fall
				// back to the full visible stream filtered by lineage.
				rows, err = resolve.BuildMatchPlayerStream(txn, user.Id, resolve.Scope{FinishedOnly: true})
			}
			if err != nil {
				return CodedError(err, http.StatusInternalServerError)
			}
		}

		samples, err := collectRoundSamples(txn, resolver, rows, lineageId)
		if err != nil {
			return err
		}

		result = stats.ComputeScoresheetStats(samples)
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error computing scoresheet stats: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("computed scoresheet stats", "code", logging.STATS_QUERY)

	utils.WriteJsonResponse(w, result)
}
