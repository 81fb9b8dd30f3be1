package stats

import (
	"math"
	"tallyboard/tracker/schema"

	"github.com/google/uuid"
)

// RoundSample is one recorded score for one round presentation, already
// mapped to its lineage id by the caller. Rounds played under different
// sharing presentations of the same logical round aggregate into one bucket.
type RoundSample struct {
	RoundLineageId uuid.UUID
	RoundName      string
	RoundType      string

	ScoresheetLineageId uuid.UUID
	WinCondition        string

	PlayerId uuid.UUID
	Score    *float64
}

type RoundStats struct {
	RoundLineageId uuid.UUID `json:"round_lineage_id"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`

	Samples int `json:"samples"`

	// Numeric rounds.
	Mean   float64  `json:"mean"`
	StdDev *float64 `json:"std_dev"`

	// Checkbox rounds: share of plays with a positive recorded score.
	CheckRate float64 `json:"check_rate"`
}

type PlayerRoundStats struct {
	PlayerId       uuid.UUID `json:"player_id"`
	RoundLineageId uuid.UUID `json:"round_lineage_id"`

	Samples int      `json:"samples"`
	Mean    float64  `json:"mean"`
	Best    *float64 `json:"best"`
	Worst   *float64 `json:"worst"`
}

type ScoresheetStats struct {
	ScoresheetLineageId uuid.UUID `json:"scoresheet_lineage_id"`
	WinCondition        string    `json:"win_condition"`

	Rounds       []RoundStats       `json:"rounds"`
	PlayerRounds []PlayerRoundStats `json:"player_rounds"`
}

// ComputeScoresheetStats aggregates round samples grouped by scoresheet
// lineage. Zero-sample values are explicit: mean 0, std dev nil, check rate 0.
func ComputeScoresheetStats(samples []RoundSample) []ScoresheetStats {
	bySheet := map[uuid.UUID][]RoundSample{}
	sheetOrder := make([]uuid.UUID, 0)
	for _, sample := range samples {
		if _, ok := bySheet[sample.ScoresheetLineageId]; !ok {
			sheetOrder = append(sheetOrder, sample.ScoresheetLineageId)
		}
		bySheet[sample.ScoresheetLineageId] = append(bySheet[sample.ScoresheetLineageId], sample)
	}

	out := make([]ScoresheetStats, 0, len(bySheet))
	for _, sheetId := range sheetOrder {
		sheetSamples := bySheet[sheetId]
		out = append(out, ScoresheetStats{
			ScoresheetLineageId: sheetId,
			WinCondition:        sheetSamples[0].WinCondition,
			Rounds:              computeRounds(sheetSamples),
			PlayerRounds:        computePlayerRounds(sheetSamples),
		})
	}

	return out
}

func computeRounds(samples []RoundSample) []RoundStats {
	byRound := map[uuid.UUID]*RoundStats{}
	scores := map[uuid.UUID][]float64{}
	order := make([]uuid.UUID, 0)

	for _, sample := range samples {
		round, ok := byRound[sample.RoundLineageId]
		if !ok {
			round = &RoundStats{
				RoundLineageId: sample.RoundLineageId,
				Name:           sample.RoundName,
				Type:           sample.RoundType,
			}
			byRound[sample.RoundLineageId] = round
			order = append(order, sample.RoundLineageId)
		}

		if sample.Score == nil {
			continue
		}
		round.Samples++
		scores[sample.RoundLineageId] = append(scores[sample.RoundLineageId], *sample.Score)
	}

	out := make([]RoundStats, 0, len(byRound))
	for _, roundId := range order {
		round := byRound[roundId]
		values := scores[roundId]

		switch round.Type {
		case schema.RoundCheckbox:
			checked := 0
			for _, value := range values {
				if value > 0 {
					checked++
				}
			}
			if len(values) > 0 {
				round.CheckRate = float64(checked) / float64(len(values)) * 100
			}
		default:
			round.Mean = mean(values)
			round.StdDev = populationStdDev(values)
		}

		out = append(out, *round)
	}

	return out
}

func computePlayerRounds(samples []RoundSample) []PlayerRoundStats {
	type key struct {
		playerId uuid.UUID
		roundId  uuid.UUID
	}

	byKey := map[key]*PlayerRoundStats{}
	sums := map[key]float64{}
	order := make([]key, 0)

	for _, sample := range samples {
		if sample.RoundType != schema.RoundNumeric || sample.Score == nil {
			continue
		}

		k := key{playerId: sample.PlayerId, roundId: sample.RoundLineageId}
		stats, ok := byKey[k]
		if !ok {
			stats = &PlayerRoundStats{PlayerId: sample.PlayerId, RoundLineageId: sample.RoundLineageId}
			byKey[k] = stats
			order = append(order, k)
		}

		score := *sample.Score
		stats.Samples++
		sums[k] += score

		lowerIsBetter := sample.WinCondition == schema.WinLowestScore
		if stats.Best == nil {
			s := score
			stats.Best = &s
		} else if (lowerIsBetter && score < *stats.Best) || (!lowerIsBetter && score > *stats.Best) {
			*stats.Best = score
		}
		if stats.Worst == nil {
			s := score
			stats.Worst = &s
		} else if (lowerIsBetter && score > *stats.Worst) || (!lowerIsBetter && score < *stats.Worst) {
			*stats.Worst = score
		}
	}

	out := make([]PlayerRoundStats, 0, len(byKey))
	for _, k := range order {
		stats := byKey[k]
		if stats.Samples > 0 {
			stats.Mean = sums[k] / float64(stats.Samples)
		}
		out = append(out, *stats)
	}

	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, value := range values {
		sum += value
	}
	return sum / float64(len(values))
}

// populationStdDev returns nil when fewer than 2 samples exist; a single
// observation has no spread worth reporting.
func populationStdDev(values []float64) *float64 {
	if len(values) < 2 {
		return nil
	}

	m := mean(values)
	sumSquares := 0.0
	for _, value := range values {
		deviation := value - m
		sumSquares += deviation * deviation
	}

	stdDev := math.Sqrt(sumSquares / float64(len(values)))
	return &stdDev
}
