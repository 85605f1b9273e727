package roi

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/opensource-health/readmit/internal/domain"
	"gopkg.in/yaml.v3"
)

// ErrInvalidScenario marks an intervention that cannot be simulated.
var ErrInvalidScenario = errors.New("invalid intervention scenario")

// scenarioFile is the document form of a scenario list.
type scenarioFile struct {
	Interventions []domain.Intervention `yaml:"interventions"`
}

// ParseScenarios decodes a YAML or JSON scenario list. Both a bare list and
// a document with an "interventions" key are accepted.
func ParseScenarios(data []byte) ([]domain.Intervention, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty scenario document", ErrInvalidScenario)
	}

	var list []domain.Intervention
	if err := decodeStrict(data, &list); err != nil {
		var doc scenarioFile
		if derr := decodeStrict(data, &doc); derr != nil {
			return nil, fmt.Errorf("decode scenarios: %w", derr)
		}
		list = doc.Interventions
	}

	if err := Validate(list); err != nil {
		return nil, err
	}
	return list, nil
}

func decodeStrict(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(v)
}

// LoadScenarios reads a scenario file.
func LoadScenarios(path string) ([]domain.Intervention, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}
	list, err := ParseScenarios(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return list, nil
}

// Validate checks a scenario list: at least one entry, unique non-empty
// names, a reduction in [0, 1] and a non-negative per-member cost.
func Validate(scenarios []domain.Intervention) error {
	if len(scenarios) == 0 {
		return fmt.Errorf("%w: no interventions", ErrInvalidScenario)
	}
	seen := make(map[string]struct{}, len(scenarios))
	for i, s := range scenarios {
		if err := ValidateOne(s); err != nil {
			return fmt.Errorf("intervention %d: %w", i+1, err)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("%w: duplicate name %q", ErrInvalidScenario, s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

// ValidateOne checks a single intervention.
func ValidateOne(s domain.Intervention) error {
	switch {
	case s.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidScenario)
	case s.ReductionPct < 0 || s.ReductionPct > 1:
		return fmt.Errorf("%w: %q reduction %v outside [0, 1]", ErrInvalidScenario, s.Name, s.ReductionPct)
	case s.CostPerMember < 0:
		return fmt.Errorf("%w: %q has negative cost per member", ErrInvalidScenario, s.Name)
	}
	return nil
}
