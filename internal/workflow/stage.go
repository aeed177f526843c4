package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// Stage is a state of the workflow. Stages advance strictly in order.
type Stage int

const (
	NotStarted Stage = iota
	InitialExploration
	PatternExpansion
	HITLDecision
	ConfidenceCheckpoint
	BulkProcessing
	Completed
)

var stageNames = [...]string{
	NotStarted:           "not_started",
	InitialExploration:   "initial_exploration",
	PatternExpansion:     "pattern_expansion",
	HITLDecision:         "hitl_decision",
	ConfidenceCheckpoint: "confidence_checkpoint",
	BulkProcessing:       "bulk_processing",
	Completed:            "completed",
}

// ExplorationStages are the sampled stages that precede bulk processing.
var ExplorationStages = []Stage{InitialExploration, PatternExpansion, HITLDecision, ConfidenceCheckpoint}

func (s Stage) String() string {
	if s < NotStarted || s > Completed {
		return "stage(" + strconv.Itoa(int(s)) + ")"
	}
	return stageNames[s]
}

// Number is the 1-based stage number; 0 before the first stage.
func (s Stage) Number() int { return int(s) }

func (s Stage) MarshalText() ([]byte, error) {
	if s < NotStarted || s > Completed {
		return nil, fmt.Errorf("invalid stage %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(b []byte) error {
	v, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStage accepts a stage name or number.
func ParseStage(v string) (Stage, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for i, name := range stageNames {
		if v == name {
			return Stage(i), nil
		}
	}
	if n, err := strconv.Atoi(v); err == nil && n >= int(NotStarted) && n <= int(Completed) {
		return Stage(n), nil
	}
	return NotStarted, fmt.Errorf("unknown stage %q", v)
}
