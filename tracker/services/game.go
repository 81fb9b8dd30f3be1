package services

import (
	"errors"
	"fmt"
	"io"
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

type GameService struct {
	db       *gorm.DB
	storage  storage.Storage
	userAuth auth.IdentityProvider
}

func (s *GameService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Post("/create", s.Create)
	r.Post("/import-template", s.ImportTemplate)
	r.Get("/list", s.List)

	r.Route("/{game_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Post("/update", s.Update)
		r.Delete("/", s.Delete)

		r.With(checkSufficientStorage(s.storage)).Post("/image", s.UploadImage)
		r.Get("/image", s.GetImage)

		r.Post("/roles", s.CreateRole)
		r.Get("/roles", s.ListRoles)
		r.Delete("/roles/{role_id}", s.DeleteRole)
	})

	return r
}

type gameRequest struct {
	Name          string `json:"name"`
	MinPlayers    *int   `json:"min_players"`
	MaxPlayers    *int   `json:"max_players"`
	MinPlaytime   *int   `json:"min_playtime"`
	MaxPlaytime   *int   `json:"max_playtime"`
	YearPublished *int   `json:"year_published"`
}

type createResponse struct {
	Id uuid.UUID `json:"id"`
}

func (s *GameService) Create(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params gameRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "game name must be specified", http.StatusBadRequest)
		return
	}

	game := schema.Game{
		Id:            uuid.New(),
		Name:          params.Name,
		MinPlayers:    params.MinPlayers,
		MaxPlayers:    params.MaxPlayers,
		MinPlaytime:   params.MinPlaytime,
		MaxPlaytime:   params.MaxPlaytime,
		YearPublished: params.YearPublished,
		CreatedBy:     user.Id,
		CreatedAt:     time.Now().UTC(),
	}

	result := s.db.Create(&game)
	if result.Error != nil {
		slog.Error("sql error creating game", "error", result.Error)
		http.Error(w, fmt.Sprintf("error creating game: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, createResponse{Id: game.Id})
}

type GameInfo struct {
	Id            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	MinPlayers    *int      `json:"min_players,omitempty"`
	MaxPlayers    *int      `json:"max_players,omitempty"`
	MinPlaytime   *int      `json:"min_playtime,omitempty"`
	MaxPlaytime   *int      `json:"max_playtime,omitempty"`
	YearPublished *int      `json:"year_published,omitempty"`

	Provenance string `json:"provenance"`
	Permission string `json:"permission"`

	LinkedGameId *uuid.UUID `json:"linked_game_id,omitempty"`
}

func gameInfo(game schema.Game, identity resolve.Identity) GameInfo {
	return GameInfo{
		Id:            identity.CanonicalId,
		Name:          game.Name,
		MinPlayers:    game.MinPlayers,
		MaxPlayers:    game.MaxPlayers,
		MinPlaytime:   game.MinPlaytime,
		MaxPlaytime:   game.MaxPlaytime,
		YearPublished: game.YearPublished,
		Provenance:    string(identity.Provenance),
		Permission:    identity.Permission.String(),
	}
}

// loadGame returns the underlying game row for a resolved identity. For
// shared identities the canonical id is the edge id, so the row is reached
// through the edge.
func loadGame(txn *gorm.DB, ref resolve.Ref, identity resolve.Identity) (schema.Game, error) {
	gameId := identity.CanonicalId
	if identity.Provenance == resolve.Shared {
		var edge schema.GameShare
		result := txn.Limit(1).Find(&edge, "id = ?", identity.CanonicalId)
		if result.Error != nil {
			slog.Error("sql error loading game share edge", "edge_id", identity.CanonicalId, "error", result.Error)
			return schema.Game{}, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected == 0 {
			return schema.Game{}, CodedError(resolve.ErrNotVisible, http.StatusNotFound)
		}
		gameId = edge.GameId
	}

	game, err := schema.GetGame(gameId, txn, false, false)
	if err != nil {
		if errors.Is(err, schema.ErrGameNotFound) {
			return schema.Game{}, CodedError(resolve.ErrNotVisible, http.StatusNotFound)
		}
		return schema.Game{}, CodedError(err, http.StatusInternalServerError)
	}
	return game, nil
}

func (s *GameService) Get(w http.ResponseWriter, r *http.Request) {
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

	var info GameInfo
	err = s.db.Transaction(func(txn *gorm.DB) error {
		resolver := resolve.New(txn, user.Id)
		identity, err := resolver.ResolveGame(ref)
		if err != nil {
			return resolveError(err)
		}

		game, err := loadGame(txn, ref, identity)
		if err != nil {
			return err
		}

		info = gameInfo(game, identity)
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error getting game: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, info)
}

func (s *GameService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var infos []GameInfo
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var owned []schema.Game
		result := txn.Where("created_by = ?", user.Id).Order("created_at").Find(&owned)
		if result.Error != nil {
			slog.Error("sql error listing games", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		infos = make([]GameInfo, 0, len(owned))
		for _, game := range owned {
			identity := resolve.Identity{Provenance: resolve.Original, CanonicalId: game.Id, Permission: resolve.EditAccess}
			infos = append(infos, gameInfo(game, identity))
		}

		var edges []schema.GameShare
		result = txn.Where("recipient_id = ? AND status = ?", user.Id, schema.ShareAccepted).Order("created_at").Find(&edges)
		if result.Error != nil {
			slog.Error("sql error listing game share edges", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		resolver := resolve.New(txn, user.Id)
		for _, edge := range edges {
			// Linked edges are suppressed from the listing, their history
			// already appears under the viewer's own game.
			identity, err := resolver.ResolveGame(resolve.SharedRef(edge.Id))
			if err != nil || identity.Provenance != resolve.Shared {
				continue
			}

			game, err := loadGame(txn, resolve.SharedRef(edge.Id), identity)
			if err != nil {
				continue
			}
			infos = append(infos, gameInfo(game, identity))
		}

		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing games: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *GameService) Update(w http.ResponseWriter, r *http.Request) {
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

	var params gameRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		resolver := resolve.New(txn, user.Id)
		identity, err := resolver.ResolveGame(ref)
		if err != nil {
			return resolveError(err)
		}
		if err := requireEdit(identity); err != nil {
			return err
		}

		game, err := loadGame(txn, ref, identity)
		if err != nil {
			return err
		}

		if params.Name != "" {
			game.Name = params.Name
		}
		game.MinPlayers = params.MinPlayers
		game.MaxPlayers = params.MaxPlayers
		game.MinPlaytime = params.MinPlaytime
		game.MaxPlaytime = params.MaxPlaytime
		game.YearPublished = params.YearPublished

		result := txn.Save(&game)
		if result.Error != nil {
			slog.Error("sql error updating game", "game_id", game.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error updating game: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *GameService) Delete(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	gameId, err := utils.URLParamUUID(r, "game_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		game, err := schema.GetGame(gameId, txn, false, false)
		if err != nil {
			if errors.Is(err, schema.ErrGameNotFound) {
				return CodedError(resolve.ErrNotVisible, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}
		// Only the owner may delete. Share edges survive, resolution of them
		// fails closed once the row is gone.
		if game.CreatedBy != user.Id {
			return CodedError(resolve.ErrNotVisible, http.StatusNotFound)
		}

		result := txn.Delete(&schema.Game{Id: gameId})
		if result.Error != nil {
			slog.Error("sql error deleting game", "game_id", gameId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting game: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *GameService) UploadImage(w http.ResponseWriter, r *http.Request) {
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

	var game schema.Game
	err = s.db.Transaction(func(txn *gorm.DB) error {
		resolver := resolve.New(txn, user.Id)
		identity, err := resolver.ResolveGame(ref)
		if err != nil {
			return resolveError(err)
		}
		if err := requireEdit(identity); err != nil {
			return err
		}

		game, err = loadGame(txn, ref, identity)
		return err
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error uploading game image: %v", err), GetResponseCode(err))
		return
	}

	imagePath := storage.GameImagePath(game.Id)
	if err := s.storage.Write(imagePath, r.Body); err != nil {
		http.Error(w, fmt.Sprintf("error saving game image: %v", err), http.StatusInternalServerError)
		return
	}

	result := s.db.Model(&schema.Game{Id: game.Id}).Update("image_path", imagePath)
	if result.Error != nil {
		slog.Error("sql error updating game image path", "game_id", game.Id, "error", result.Error)
		http.Error(w, fmt.Sprintf("error saving game image: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	utils.WriteSuccess(w)
}

func (s *GameService) GetImage(w http.ResponseWriter, r *http.Request) {
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

	var game schema.Game
	err = s.db.Transaction(func(txn *gorm.DB) error {
		resolver := resolve.New(txn, user.Id)
		identity, err := resolver.ResolveGame(ref)
		if err != nil {
			return resolveError(err)
		}

		game, err = loadGame(txn, ref, identity)
		return err
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error getting game image: %v", err), GetResponseCode(err))
		return
	}

	if game.ImagePath == "" {
		http.Error(w, "game has no image", http.StatusNotFound)
		return
	}

	image, err := s.storage.Read(game.ImagePath)
	if err != nil {
		http.Error(w, fmt.Sprintf("error reading game image: %v", err), http.StatusInternalServerError)
		return
	}
	defer image.Close()

	if _, err := io.Copy(w, image); err != nil {
		slog.Error("error writing game image response", "game_id", game.Id, "error", err)
	}
}

type roleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *GameService) CreateRole(w http.ResponseWriter, r *http.Request) {
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

	var params roleRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Name == "" {
		http.Error(w, "role name must be specified", http.StatusBadRequest)
		return
	}

	role := schema.GameRole{Id: uuid.New(), Name: params.Name, Description: params.Description}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		resolver := resolve.New(txn, user.Id)
		identity, err := resolver.ResolveGame(ref)
		if err != nil {
			return resolveError(err)
		}
		if err := requireEdit(identity); err != nil {
			return err
		}

		game, err := loadGame(txn, ref, identity)
		if err != nil {
			return err
		}

		role.GameId = game.Id
		role.CreatedBy = game.CreatedBy

		result := txn.Create(&role)
		if result.Error != nil {
			slog.Error("sql error creating game role", "game_id", game.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error creating game role: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createResponse{Id: role.Id})
}

type RoleInfo struct {
	Id          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
}

func (s *GameService) ListRoles(w http.ResponseWriter, r *http.Request) {
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

	var infos []RoleInfo
	err = s.db.Transaction(func(txn *gorm.DB) error {
		resolver := resolve.New(txn, user.Id)
		identity, err := resolver.ResolveGame(ref)
		if err != nil {
			return resolveError(err)
		}

		game, err := loadGame(txn, ref, identity)
		if err != nil {
			return err
		}

		var roles []schema.GameRole
		result := txn.Where("game_id = ?", game.Id).Find(&roles)
		if result.Error != nil {
			slog.Error("sql error listing game roles", "game_id", game.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		infos = make([]RoleInfo, 0, len(roles))
		for _, role := range roles {
			infos = append(infos, RoleInfo{Id: role.Id, Name: role.Name, Description: role.Description})
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing game roles: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *GameService) DeleteRole(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	roleId, err := utils.URLParamUUID(r, "role_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		role, err := schema.GetGameRole(roleId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrRoleNotFound) {
				return CodedError(resolve.ErrNotVisible, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}
		if role.CreatedBy != user.Id {
			return CodedError(resolve.ErrNotVisible, http.StatusNotFound)
		}

		result := txn.Delete(&schema.GameRole{Id: roleId})
		if result.Error != nil {
			slog.Error("sql error deleting game role", "role_id", roleId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting game role: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type importTemplateRequest struct {
	GameName string `json:"game_name"`
	Template string `json:"template"`
}

type importTemplateResponse struct {
	GameId       uuid.UUID `json:"game_id"`
	ScoresheetId uuid.UUID `json:"scoresheet_id"`
}

// ImportTemplate creates a new game with a scoresheet parsed from a yaml
// template document.
func (s *GameService) ImportTemplate(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params importTemplateRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	template, err := storage.ParseTemplate([]byte(params.Template))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	gameName := params.GameName
	if gameName == "" {
		gameName = template.Name
	}

	res := importTemplateResponse{GameId: uuid.New(), ScoresheetId: uuid.New()}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		game := schema.Game{Id: res.GameId, Name: gameName, CreatedBy: user.Id, CreatedAt: time.Now().UTC()}
		if result := txn.Create(&game); result.Error != nil {
			slog.Error("sql error creating game from template", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		sheet := schema.Scoresheet{
			Id:            res.ScoresheetId,
			GameId:        game.Id,
			Name:          template.Name,
			WinCondition:  template.WinCondition,
			RoundsScoring: template.RoundsScoring,
			TargetScore:   template.TargetScore,
			IsCoop:        template.IsCoop,
			CreatedBy:     user.Id,
			CreatedAt:     time.Now().UTC(),
		}
		if result := txn.Create(&sheet); result.Error != nil {
			slog.Error("sql error creating scoresheet from template", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		for i, round := range template.Rounds {
			row := schema.Round{
				Id:            uuid.New(),
				ScoresheetId:  sheet.Id,
				Name:          round.Name,
				Type:          round.Type,
				Order:         i,
				Color:         round.Color,
				ScoreModifier: round.ScoreModifier,
				LookupValue:   round.LookupValue,
				DefaultScore:  round.DefaultScore,
			}
			if result := txn.Create(&row); result.Error != nil {
				slog.Error("sql error creating round from template", "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}
		return nil
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error importing template: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, res)
}
