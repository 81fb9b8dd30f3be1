package auth

import (
	"errors"
	"fmt"
	"net/http"
	"tallyboard/tracker/resolve"

	"gorm.io/gorm"
)

func AdminOnly(db *gorm.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if !user.IsAdmin {
				http.Error(w, fmt.Sprintf("user %v is not an admin", user.Id), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

var ErrEditPermissionRequired = errors.New("edit permission is required for this operation")

// RequireEdit rejects a mutation before any write is attempted when the
// resolved identity carries only view access.
func RequireEdit(identity resolve.Identity) error {
	if identity.Permission < resolve.EditAccess {
		return ErrEditPermissionRequired
	}
	return nil
}
