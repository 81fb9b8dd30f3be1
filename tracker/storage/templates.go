package storage

import (
	"fmt"
	"tallyboard/tracker/schema"

	"gopkg.in/yaml.v3"
)

// ScoresheetTemplate is the portable yaml form of a scoresheet and its
// rounds. Ids and lineage fields are intentionally omitted so a template
// imported into another account creates fresh records.
type ScoresheetTemplate struct {
	Name          string          `yaml:"name"`
	WinCondition  string          `yaml:"win_condition"`
	RoundsScoring string          `yaml:"rounds_scoring"`
	TargetScore   float64         `yaml:"target_score,omitempty"`
	IsCoop        bool            `yaml:"is_coop,omitempty"`
	Rounds        []RoundTemplate `yaml:"rounds"`
}

type RoundTemplate struct {
	Name          string  `yaml:"name"`
	Type          string  `yaml:"type"`
	Color         string  `yaml:"color,omitempty"`
	ScoreModifier float64 `yaml:"score_modifier,omitempty"`
	LookupValue   float64 `yaml:"lookup_value,omitempty"`
	DefaultScore  float64 `yaml:"default_score,omitempty"`
}

// ExportTemplate serializes a scoresheet and its rounds to yaml. Rounds are
// assumed to already be in display order.
func ExportTemplate(sheet schema.Scoresheet) ([]byte, error) {
	template := ScoresheetTemplate{
		Name:          sheet.Name,
		WinCondition:  sheet.WinCondition,
		RoundsScoring: sheet.RoundsScoring,
		TargetScore:   sheet.TargetScore,
		IsCoop:        sheet.IsCoop,
		Rounds:        make([]RoundTemplate, 0, len(sheet.Rounds)),
	}

	for _, round := range sheet.Rounds {
		template.Rounds = append(template.Rounds, RoundTemplate{
			Name:          round.Name,
			Type:          round.Type,
			Color:         round.Color,
			ScoreModifier: round.ScoreModifier,
			LookupValue:   round.LookupValue,
			DefaultScore:  round.DefaultScore,
		})
	}

	data, err := yaml.Marshal(&template)
	if err != nil {
		return nil, fmt.Errorf("error serializing scoresheet template: %w", err)
	}

	return data, nil
}

// ParseTemplate deserializes and validates a yaml scoresheet template.
func ParseTemplate(data []byte) (ScoresheetTemplate, error) {
	var template ScoresheetTemplate
	if err := yaml.Unmarshal(data, &template); err != nil {
		return ScoresheetTemplate{}, fmt.Errorf("error parsing scoresheet template: %w", err)
	}

	if template.Name == "" {
		return ScoresheetTemplate{}, fmt.Errorf("scoresheet template is missing a name")
	}
	if !schema.CheckValidWinCondition(template.WinCondition) {
		return ScoresheetTemplate{}, fmt.Errorf("invalid win condition '%v' in scoresheet template", template.WinCondition)
	}
	for _, round := range template.Rounds {
		if round.Type != schema.RoundNumeric && round.Type != schema.RoundCheckbox {
			return ScoresheetTemplate{}, fmt.Errorf("invalid round type '%v' in scoresheet template", round.Type)
		}
	}

	return template, nil
}
