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
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PlayerService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *PlayerService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Post("/create", s.Create)
	r.Get("/list", s.List)

	r.Route("/{player_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Post("/update", s.Update)
		r.Delete("/", s.Delete)
	})

	return r
}

type playerRequest struct {
	Name string `json:"name"`
}

func (s *PlayerService) Create(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params playerRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Name == "" {
		http.Error(w, "player name must be specified", http.StatusBadRequest)
		return
	}

	player := schema.Player{
		Id:        uuid.New(),
		Name:      params.Name,
		CreatedBy: user.Id,
		CreatedAt: time.Now().UTC(),
	}

	result := s.db.Create(&player)
	if result.Error != nil {
		slog.Error("sql error creating player", "error", result.Error)
		http.Error(w, fmt.Sprintf("error creating player: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, createResponse{Id: player.Id})
}

type PlayerInfo struct {
	Id     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	IsUser bool      `json:"is_user"`

	Provenance string `json:"provenance"`
	Permission string `json:"permission"`
}

// loadPlayer returns the underlying player row for a resolved identity,
// following the share edge when needed.
func loadPlayer(txn *gorm.DB, identity resolve.Identity) (schema.Player, error) {
	playerId := identity.CanonicalId
	if identity.Provenance == resolve.Shared {
		var edge schema.PlayerShare
		result := txn.Limit(1).Find(&edge, "id = ?", identity.CanonicalId)
		if result.Error != nil {
			slog.Error("sql error loading player share edge", "edge_id", identity.CanonicalId, "error", result.Error)
			return schema.Player{}, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected == 0 {
			return schema.Player{}, CodedError(resolve.ErrNotVisible, http.StatusNotFound)
		}
		playerId = edge.PlayerId
	}

	player, err := schema.GetPlayer(playerId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrPlayerNotFound) {
			return schema.Player{}, CodedError(resolve.ErrNotVisible, http.StatusNotFound)
		}
		return schema.Player{}, CodedError(err, http.StatusInternalServerError)
	}
	return player, nil
}

func playerInfo(player schema.Player, identity resolve.Identity) PlayerInfo {
	return PlayerInfo{
		Id:         identity.CanonicalId,
		Name:       player.Name,
		IsUser:     player.IsUser,
		Provenance: string(identity.Provenance),
		Permission: identity.Permission.String(),
	}
}

func (s *PlayerService) Get(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ref, err := refFromRequest(r, "player_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var info PlayerInfo
	err = s.db.Transaction(func(txn *gorm.DB) error {
		resolver := resolve.New(txn, user.Id)
		identity, err := resolver.ResolvePlayer(ref)
		if err != nil {
			return resolveError(err)
		}

		player, err := loadPlayer(txn, identity)
		if err != nil {
			return err
		}

		info = playerInfo(player, identity)
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error getting player: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, info)
}

func (s *PlayerService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var infos []PlayerInfo
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var owned []schema.Player
		result := txn.Where("created_by = ?", user.Id).Order("created_at").Find(&owned)
		if result.Error != nil {
			slog.Error("sql error listing players", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		infos = make([]PlayerInfo, 0, len(owned))
		for _, player := range owned {
			identity := resolve.Identity{Provenance: resolve.Original, CanonicalId: player.Id, Permission: resolve.EditAccess}
			infos = append(infos, playerInfo(player, identity))
		}

		var edges []schema.PlayerShare
		result = txn.Where("recipient_id = ? AND status = ?", user.Id, schema.ShareAccepted).Order("created_at").Find(&edges)
		if result.Error != nil {
			slog.Error("sql error listing player share edges", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		resolver := resolve.New(txn, user.Id)
		for _, edge := range edges {
			// Linked edges collapse into the viewer's own player above.
			identity, err := resolver.ResolvePlayer(resolve.SharedRef(edge.Id))
			if err != nil || identity.Provenance != resolve.Shared {
				continue
			}

			player, err := loadPlayer(txn, identity)
			if err != nil {
				continue
			}
			infos = append(infos, playerInfo(player, identity))
		}

		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing players: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *PlayerService) Update(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ref, err := refFromRequest(r, "player_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params playerRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Name == "" {
		http.Error(w, "player name must be specified", http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		resolver := resolve.New(txn, user.Id)
		identity, err := resolver.ResolvePlayer(ref)
		if err != nil {
			return resolveError(err)
		}
		if err := requireEdit(identity); err != nil {
			return err
		}

		player, err := loadPlayer(txn, identity)
		if err != nil {
			return err
		}

		player.Name = params.Name

		result := txn.Save(&player)
		if result.Error != nil {
			slog.Error("sql error updating player", "player_id", player.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error updating player: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *PlayerService) Delete(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	playerId, err := utils.URLParamUUID(r, "player_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		player, err := schema.GetPlayer(playerId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrPlayerNotFound) {
				return CodedError(resolve.ErrNotVisible, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}
		if player.CreatedBy != user.Id {
			return CodedError(resolve.ErrNotVisible, http.StatusNotFound)
		}
		if player.IsUser {
			return CodedError(errors.New("the user's own player record cannot be deleted"), http.StatusUnprocessableEntity)
		}

		result := txn.Delete(&schema.Player{Id: playerId})
		if result.Error != nil {
			slog.Error("sql error deleting player", "player_id", playerId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting player: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}
