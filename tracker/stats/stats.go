// Package stats computes game and scoresheet statistics over the canonical
// match player stream. Everything here is a pure pass over its input; all
// identity resolution happens upstream in the resolve package.
package stats

import (
	"tallyboard/tracker/resolve"
	"tallyboard/tracker/schema"

	"github.com/google/uuid"
)

// Matches shorter than this are treated as abandoned and excluded from
// playtime aggregates so they do not drag the average toward zero.
const minCountedDuration = 300

type HeaderStats struct {
	MatchesPlayed   int     `json:"matches_played"`
	ViewerMatches   int     `json:"viewer_matches"`
	ViewerWins      int     `json:"viewer_wins"`
	WinRate         float64 `json:"win_rate"`
	TotalPlaytime   int     `json:"total_playtime"`
	AveragePlaytime float64 `json:"average_playtime"`
}

type BucketStats struct {
	Matches int     `json:"matches"`
	Wins    int     `json:"wins"`
	WinRate float64 `json:"win_rate"`
}

type PlayerStats struct {
	PlayerId   uuid.UUID          `json:"player_id"`
	Provenance resolve.Provenance `json:"provenance"`

	Coop        BucketStats `json:"coop"`
	Competitive BucketStats `json:"competitive"`

	BestScore  *float64 `json:"best_score"`
	WorstScore *float64 `json:"worst_score"`
}

type GameStats struct {
	Header  HeaderStats   `json:"header"`
	Players []PlayerStats `json:"players"`
}

// ComputeGameStats aggregates the canonical stream for one game.
// viewerPlayerId is the canonical id of the viewer's own is_user player;
// uuid.Nil when the viewer tracks no player.
func ComputeGameStats(rows []resolve.MatchPlayerRow, viewerPlayerId uuid.UUID) GameStats {
	header := computeHeader(rows, viewerPlayerId)
	players := computePlayers(rows)
	return GameStats{Header: header, Players: players}
}

func computeHeader(rows []resolve.MatchPlayerRow, viewerPlayerId uuid.UUID) HeaderStats {
	type matchInfo struct {
		duration  int
		viewerRow bool
		viewerWin bool
	}

	matches := map[uuid.UUID]matchInfo{}
	for _, row := range rows {
		if row.NotShared {
			continue
		}
		info := matches[row.MatchId]
		info.duration = row.Duration
		if viewerPlayerId != uuid.Nil && row.PlayerId == viewerPlayerId {
			info.viewerRow = true
			info.viewerWin = row.Winner
		}
		matches[row.MatchId] = info
	}

	var header HeaderStats
	header.MatchesPlayed = len(matches)

	countedPlaytime := 0
	countedMatches := 0
	for _, info := range matches {
		if info.duration >= minCountedDuration {
			countedPlaytime += info.duration
			countedMatches++
		}
		if info.viewerRow {
			header.ViewerMatches++
			if info.viewerWin {
				header.ViewerWins++
			}
		}
	}

	header.TotalPlaytime = countedPlaytime
	if countedMatches > 0 {
		header.AveragePlaytime = float64(countedPlaytime) / float64(countedMatches)
	}
	if header.ViewerMatches > 0 {
		header.WinRate = float64(header.ViewerWins) / float64(header.ViewerMatches)
	}

	return header
}

// Win semantics differ fundamentally between cooperative and competitive
// play; the buckets never blend.
func computePlayers(rows []resolve.MatchPlayerRow) []PlayerStats {
	byPlayer := map[uuid.UUID]*PlayerStats{}
	order := make([]uuid.UUID, 0)

	for _, row := range rows {
		if row.NotShared {
			continue
		}

		stats, ok := byPlayer[row.PlayerId]
		if !ok {
			stats = &PlayerStats{PlayerId: row.PlayerId, Provenance: row.PlayerProvenance}
			byPlayer[row.PlayerId] = stats
			order = append(order, row.PlayerId)
		}

		bucket := &stats.Competitive
		if row.IsCoop {
			bucket = &stats.Coop
		}
		bucket.Matches++
		if row.Winner {
			bucket.Wins++
		}

		if row.Score != nil {
			updateBestWorst(stats, *row.Score, row.WinCondition)
		}
	}

	out := make([]PlayerStats, 0, len(byPlayer))
	for _, id := range order {
		stats := byPlayer[id]
		if stats.Coop.Matches > 0 {
			stats.Coop.WinRate = float64(stats.Coop.Wins) / float64(stats.Coop.Matches)
		}
		if stats.Competitive.Matches > 0 {
			stats.Competitive.WinRate = float64(stats.Competitive.Wins) / float64(stats.Competitive.Matches)
		}
		out = append(out, *stats)
	}

	return out
}

// Best tracks the win condition: under lowest-score the best score is the
// minimum, not the maximum.
func updateBestWorst(stats *PlayerStats, score float64, winCondition string) {
	lowerIsBetter := winCondition == schema.WinLowestScore

	if stats.BestScore == nil {
		s := score
		stats.BestScore = &s
	} else if (lowerIsBetter && score < *stats.BestScore) || (!lowerIsBetter && score > *stats.BestScore) {
		*stats.BestScore = score
	}

	if stats.WorstScore == nil {
		s := score
		stats.WorstScore = &s
	} else if (lowerIsBetter && score > *stats.WorstScore) || (!lowerIsBetter && score < *stats.WorstScore) {
		*stats.WorstScore = score
	}
}
