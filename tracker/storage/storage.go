package storage

import (
	"fmt"
	"io"

	"github.com/google/uuid"
)

type UsageStats struct {
	TotalBytes uint64
	FreeBytes  uint64
}

// FreeFraction returns the fraction of the volume that is still free.
func (u UsageStats) FreeFraction() float64 {
	if u.TotalBytes == 0 {
		return 0
	}
	return float64(u.FreeBytes) / float64(u.TotalBytes)
}

type Storage interface {
	Read(path string) (io.ReadCloser, error)

	Write(path string, data io.Reader) error

	Delete(path string) error

	List(path string) ([]string, error)

	Exists(path string) (bool, error)

	Size(path string) (int64, error)

	Usage() (UsageStats, error)

	Location() string
}

// GameImagePath is the storage path for a game's uploaded image.
func GameImagePath(gameId uuid.UUID) string {
	return fmt.Sprintf("games/%v/image", gameId)
}
