package workflow

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/KaramelBytes/dataloom-cli/internal/analysis"
	"github.com/KaramelBytes/dataloom-cli/internal/sampling"
)

var ErrInvalidConfig = errors.New("workflow: invalid config")

// Config holds the parameters of one run. It is stored in every checkpoint.
type Config struct {
	Stage1Ratio float64 `json:"stage1_ratio" validate:"gt=0,lt=1"`
	Stage2Ratio float64 `json:"stage2_ratio" validate:"gt=0,lt=1"`
	Stage3Ratio float64 `json:"stage3_ratio" validate:"gt=0,lt=1"`
	Stage4Ratio float64 `json:"stage4_ratio" validate:"gt=0,lt=1"`

	// MinConfidenceThreshold gates auto-approval at the confidence checkpoint.
	MinConfidenceThreshold float64 `json:"min_confidence_threshold" validate:"gte=0,lte=1"`
	// MaxErrorRate aborts bulk processing when FailedRules/TotalRules exceeds it.
	MaxErrorRate float64 `json:"max_error_rate" validate:"gte=0,lte=1"`
	// ConvergenceThreshold is the rule-id similarity two stages need to be converged.
	ConvergenceThreshold float64 `json:"convergence_threshold" validate:"gte=0,lte=1"`
	// StatsConvergenceThreshold bounds relative change of column statistics between stages.
	StatsConvergenceThreshold float64 `json:"stats_convergence_threshold" validate:"gte=0,lte=1"`

	SkipHITL              bool `json:"skip_hitl"`
	EnableAutoApproval    bool `json:"enable_auto_approval"`
	EnableCheckpoints     bool `json:"enable_checkpoints"`
	ContinueOnRuleFailure bool `json:"continue_on_rule_failure"`

	CheckpointDir string `json:"checkpoint_dir" validate:"required_if=EnableCheckpoints true"`
	OutputDir     string `json:"output_dir"`

	BulkProcessingChunkSize int    `json:"bulk_processing_chunk_size" validate:"gt=0"`
	Seed                    uint64 `json:"seed"`

	Sampling sampling.Config  `json:"sampling"`
	Analysis analysis.Options `json:"analysis"`
}

func DefaultConfig() Config {
	return Config{
		Stage1Ratio:               0.001,
		Stage2Ratio:               0.005,
		Stage3Ratio:               0.015,
		Stage4Ratio:               0.025,
		MinConfidenceThreshold:    0.98,
		MaxErrorRate:              0.01,
		ConvergenceThreshold:      1.0,
		StatsConvergenceThreshold: 0.1,
		EnableCheckpoints:         true,
		ContinueOnRuleFailure:     true,
		CheckpointDir:             "checkpoints",
		OutputDir:                 "output",
		BulkProcessingChunkSize:   10000,
		Seed:                      42,
		Sampling:                  sampling.DefaultConfig(),
		Analysis:                  analysis.DefaultOptions(),
	}
}

// Ratios returns the sample ratios of the exploration stages.
func (c Config) Ratios() []float64 {
	return []float64{c.Stage1Ratio, c.Stage2Ratio, c.Stage3Ratio, c.Stage4Ratio}
}

// Ratio returns the sample ratio of a stage; bulk processing always uses 1.
func (c Config) Ratio(s Stage) float64 {
	if s >= InitialExploration && s <= ConfidenceCheckpoint {
		return c.Ratios()[s-InitialExploration]
	}
	if s == BulkProcessing {
		return 1
	}
	return 0
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and that stage ratios strictly increase.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("%w: %s fails %s=%s (got %v)", ErrInvalidConfig, f.Field(), f.Tag(), f.Param(), f.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	rs := c.Ratios()
	for i := 1; i < len(rs); i++ {
		if rs[i] <= rs[i-1] {
			return fmt.Errorf("%w: stage %d ratio %v must exceed stage %d ratio %v", ErrInvalidConfig, i+1, rs[i], i, rs[i-1])
		}
	}
	if c.Sampling.Tolerance < 0 || c.Sampling.Tolerance > 1 {
		return fmt.Errorf("%w: sampling tolerance %v outside [0,1]", ErrInvalidConfig, c.Sampling.Tolerance)
	}
	return nil
}
