package services

import (
	"log"
	"net/http"
	"os"
	"slices"
	"tallyboard/tracker/auth"
	"tallyboard/tracker/storage"
	"tallyboard/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

type Tracker struct {
	user       UserService
	game       GameService
	player     PlayerService
	scoresheet ScoresheetService
	match      MatchService
	share      ShareService
	stats      StatsService

	db *gorm.DB
}

func NewTracker(db *gorm.DB, store storage.Storage, userAuth auth.IdentityProvider, secret []byte) Tracker {
	inviteAuth := auth.NewJwtManager(slices.Concat(secret, []byte("invite")))

	return Tracker{
		user:       UserService{db: db, userAuth: userAuth},
		game:       GameService{db: db, storage: store, userAuth: userAuth},
		player:     PlayerService{db: db, userAuth: userAuth},
		scoresheet: ScoresheetService{db: db, userAuth: userAuth},
		match:      MatchService{db: db, userAuth: userAuth},
		share:      ShareService{db: db, userAuth: userAuth, inviteAuth: inviteAuth},
		stats:      StatsService{db: db, userAuth: userAuth},
		db:         db,
	}
}

func (t *Tracker) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))

	r.Mount("/user", t.user.Routes())
	r.Mount("/games", t.game.Routes())
	r.Mount("/players", t.player.Routes())
	r.Mount("/scoresheets", t.scoresheet.Routes())
	r.Mount("/matches", t.match.Routes())
	r.Mount("/shares", t.share.Routes())
	r.Mount("/stats", t.stats.Routes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})

	return r
}
