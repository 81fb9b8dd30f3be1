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

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

// refFromRequest builds an entity reference from a request. The id path param
// holds either an owned record id or, with ?shared=true, a share edge id.
func refFromRequest(r *http.Request, key string) (resolve.Ref, error) {
	id, err := utils.URLParamUUID(r, key)
	if err != nil {
		return resolve.Ref{}, err
	}
	if utils.QueryParamBool(r, "shared") {
		return resolve.SharedRef(id), nil
	}
	return resolve.OriginalRef(id), nil
}

// resolveError converts resolver failures into coded http errors. Entities
// that cannot be seen and entities that do not exist are indistinguishable.
func resolveError(err error) error {
	if errors.Is(err, resolve.ErrNotVisible) {
		return CodedError(err, http.StatusNotFound)
	}
	return CodedError(err, http.StatusInternalServerError)
}

// requireEdit gates mutations behind a resolved identity's permission.
func requireEdit(identity resolve.Identity) error {
	if err := auth.RequireEdit(identity); err != nil {
		return CodedError(err, http.StatusForbidden)
	}
	return nil
}

func checkUserExists(txn *gorm.DB, userId uuid.UUID) error {
	if _, err := schema.GetUser(userId, txn); err != nil {
		if errors.Is(err, schema.ErrUserNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

func checkDiskUsage(store storage.Storage) error {
	stats, err := store.Usage()
	if err != nil {
		slog.Error("unable to get disk usage from storage", "error", err)
		return CodedError(errors.New("unable to get disk usage"), http.StatusInternalServerError)
	}
	oneMib := uint64(1024 * 1024)
	// Either 10% of the disk needs to be free or 5Gb (in case the disk is very large)
	threshold := min(stats.TotalBytes/10, 5*1024*oneMib)
	if stats.FreeBytes < threshold {
		used := (stats.TotalBytes - stats.FreeBytes) / oneMib
		total := stats.TotalBytes / oneMib
		delta := (threshold - stats.FreeBytes) / oneMib
		return CodedError(fmt.Errorf("insufficient disk space available, usage: %d/%d Mib, please clear %d Mib", used, total, delta), http.StatusInsufficientStorage)
	}
	return nil
}

func checkSufficientStorage(store storage.Storage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			if err := checkDiskUsage(store); err != nil {
				slog.Error(err.Error())
				http.Error(w, err.Error(), GetResponseCode(err))
				return
			}
			next.ServeHTTP(w, r)
		}

		return http.HandlerFunc(handler)
	}
}
