package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/dataloom-cli/internal/analysis"
	"github.com/KaramelBytes/dataloom-cli/internal/sampling"
	"github.com/KaramelBytes/dataloom-cli/internal/table"
	"github.com/KaramelBytes/dataloom-cli/internal/telemetry"
	"github.com/KaramelBytes/dataloom-cli/internal/utils"
	"github.com/KaramelBytes/dataloom-cli/internal/workflow"
)

// ProjectFile is looked up from the working directory upwards when no
// config file is given on the command line.
const ProjectFile = "dataloom.yaml"

var (
	ErrInvalid    = errors.New("config: invalid")
	ErrUnknownKey = errors.New("config: unknown key")
)

// Decision store backends.
const (
	StoreFile   = "file"
	StoreBadger = "badger"
)

// Global configuration structure.
type Global struct {
	// Stage sample ratios
	Stage1Ratio float64 `mapstructure:"stage1_ratio" yaml:"stage1_ratio"`
	Stage2Ratio float64 `mapstructure:"stage2_ratio" yaml:"stage2_ratio"`
	Stage3Ratio float64 `mapstructure:"stage3_ratio" yaml:"stage3_ratio"`
	Stage4Ratio float64 `mapstructure:"stage4_ratio" yaml:"stage4_ratio"`

	MinConfidenceThreshold    float64 `mapstructure:"min_confidence_threshold" yaml:"min_confidence_threshold"`
	MaxErrorRate              float64 `mapstructure:"max_error_rate" yaml:"max_error_rate"`
	ConvergenceThreshold      float64 `mapstructure:"convergence_threshold" yaml:"convergence_threshold"`
	StatsConvergenceThreshold float64 `mapstructure:"stats_convergence_threshold" yaml:"stats_convergence_threshold"`

	SkipHITL              bool   `mapstructure:"skip_hitl" yaml:"skip_hitl"`
	EnableAutoApproval    bool   `mapstructure:"enable_auto_approval" yaml:"enable_auto_approval"`
	EnableCheckpoints     bool   `mapstructure:"enable_checkpoints" yaml:"enable_checkpoints"`
	ContinueOnRuleFailure bool   `mapstructure:"continue_on_rule_failure" yaml:"continue_on_rule_failure"`
	CheckpointDir         string `mapstructure:"checkpoint_dir" yaml:"checkpoint_dir"`
	OutputDir             string `mapstructure:"output_dir" yaml:"output_dir" validate:"required"`
	ChunkSize             int    `mapstructure:"chunk_size" yaml:"chunk_size"`
	Seed                  uint64 `mapstructure:"seed" yaml:"seed"`

	Sampling sampling.Config  `mapstructure:"sampling" yaml:"sampling"`
	Analysis analysis.Options `mapstructure:"analysis" yaml:"analysis"`

	// Dataset loading
	Delimiter          string   `mapstructure:"delimiter" yaml:"delimiter" validate:"max=1"`
	Sheet              string   `mapstructure:"sheet" yaml:"sheet"`
	NullTokens         []string `mapstructure:"null_tokens" yaml:"null_tokens"`
	DecimalSeparator   string   `mapstructure:"decimal_separator" yaml:"decimal_separator" validate:"max=1"`
	ThousandsSeparator string   `mapstructure:"thousands_separator" yaml:"thousands_separator" validate:"max=1"`

	// Human review
	User          string `mapstructure:"user" yaml:"user"`
	DecisionStore string `mapstructure:"decision_store" yaml:"decision_store" validate:"oneof=file badger"`
	DecisionDir   string `mapstructure:"decision_dir" yaml:"decision_dir" validate:"required"`

	LogFormat string           `mapstructure:"log_format" yaml:"log_format" validate:"oneof=console json"`
	Telemetry telemetry.Config `mapstructure:"telemetry" yaml:"telemetry"`
}

// Default returns the built-in configuration.
func Default() *Global {
	w := workflow.DefaultConfig()
	tel := telemetry.DefaultConfig()
	return &Global{
		Stage1Ratio:               w.Stage1Ratio,
		Stage2Ratio:               w.Stage2Ratio,
		Stage3Ratio:               w.Stage3Ratio,
		Stage4Ratio:               w.Stage4Ratio,
		MinConfidenceThreshold:    w.MinConfidenceThreshold,
		MaxErrorRate:              w.MaxErrorRate,
		ConvergenceThreshold:      w.ConvergenceThreshold,
		StatsConvergenceThreshold: w.StatsConvergenceThreshold,
		EnableCheckpoints:         w.EnableCheckpoints,
		ContinueOnRuleFailure:     w.ContinueOnRuleFailure,
		CheckpointDir:             w.CheckpointDir,
		OutputDir:                 w.OutputDir,
		ChunkSize:                 w.BulkProcessingChunkSize,
		Seed:                      w.Seed,
		Sampling:                  w.Sampling,
		Analysis:                  w.Analysis,
		NullTokens:                table.DefaultLoadOptions().NullTokens,
		DecisionStore:             StoreFile,
		DecisionDir:               "decisions",
		LogFormat:                 "console",
		Telemetry:                 tel,
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("stage1_ratio", d.Stage1Ratio)
	v.SetDefault("stage2_ratio", d.Stage2Ratio)
	v.SetDefault("stage3_ratio", d.Stage3Ratio)
	v.SetDefault("stage4_ratio", d.Stage4Ratio)
	v.SetDefault("min_confidence_threshold", d.MinConfidenceThreshold)
	v.SetDefault("max_error_rate", d.MaxErrorRate)
	v.SetDefault("convergence_threshold", d.ConvergenceThreshold)
	v.SetDefault("stats_convergence_threshold", d.StatsConvergenceThreshold)
	v.SetDefault("skip_hitl", false)
	v.SetDefault("enable_auto_approval", false)
	v.SetDefault("enable_checkpoints", d.EnableCheckpoints)
	v.SetDefault("continue_on_rule_failure", d.ContinueOnRuleFailure)
	v.SetDefault("checkpoint_dir", d.CheckpointDir)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("chunk_size", d.ChunkSize)
	v.SetDefault("seed", d.Seed)
	// Sampling
	v.SetDefault("sampling.strategy", string(d.Sampling.Strategy))
	v.SetDefault("sampling.label_column", "")
	v.SetDefault("sampling.tolerance", d.Sampling.Tolerance)
	v.SetDefault("sampling.min_classes", d.Sampling.MinClasses)
	v.SetDefault("sampling.max_classes", d.Sampling.MaxClasses)
	v.SetDefault("sampling.min_class_size", d.Sampling.MinClassSize)
	// Analysis
	v.SetDefault("analysis.workers", d.Analysis.Workers)
	v.SetDefault("analysis.higher_moments", d.Analysis.ComputeHigherMoments)
	v.SetDefault("analysis.outlier_method", string(d.Analysis.OutlierMethod))
	v.SetDefault("analysis.zscore_threshold", d.Analysis.ZScoreThreshold)
	v.SetDefault("analysis.iqr_multiplier", d.Analysis.IQRMultiplier)
	v.SetDefault("analysis.max_categorical_values", d.Analysis.MaxCategoricalValues)
	v.SetDefault("analysis.percentiles", d.Analysis.Percentiles)
	v.SetDefault("analysis.text_min_avg_length", d.Analysis.TextMinAvgLength)
	// Loading
	v.SetDefault("delimiter", "")
	v.SetDefault("sheet", "")
	v.SetDefault("null_tokens", d.NullTokens)
	v.SetDefault("decimal_separator", "")
	v.SetDefault("thousands_separator", "")
	// Review and logging
	v.SetDefault("user", "")
	v.SetDefault("decision_store", d.DecisionStore)
	v.SetDefault("decision_dir", d.DecisionDir)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.service_version", d.Telemetry.ServiceVersion)
	v.SetDefault("telemetry.trace_exporter", d.Telemetry.TraceExporter)
	v.SetDefault("telemetry.metric_exporter", d.Telemetry.MetricExporter)
}

// HomeFile returns ~/.dataloom/config.yaml.
func HomeFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".dataloom", "config.yaml"), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.dataloom/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		p, err := HomeFile()
		if err != nil {
			return err
		}
		path = p
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := utils.SafeWriteFile(path, b); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: env > config file > defaults. A .env file in the working
// directory is read first and never overrides variables already set.
// Without cfgFile, dataloom.yaml is searched from the working directory
// upwards, then ~/.dataloom/config.yaml.
func Load(cfgFile string) (*Global, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("DATALOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	path := cfgFile
	if path == "" {
		path = discover()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			// An explicit file must exist; discovered ones already do.
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

func discover() string {
	if wd, err := os.Getwd(); err == nil {
		if p, err := utils.FindUpward(wd, ProjectFile); err == nil {
			return p
		}
	}
	if p, err := HomeFile(); err == nil {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the CLI-level fields and the derived workflow config.
func (c *Global) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("%w: %s fails %s=%s (got %v)", ErrInvalid, f.Namespace(), f.Tag(), f.Param(), f.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := sampling.ParseStrategy(string(c.Sampling.Strategy)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := c.ToWorkflowConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// ToWorkflowConfig maps the loaded settings onto a workflow run.
func (c *Global) ToWorkflowConfig() workflow.Config {
	nf := c.NumberFormat()
	an := c.Analysis
	an.NumberFormat = nf
	return workflow.Config{
		Stage1Ratio:               c.Stage1Ratio,
		Stage2Ratio:               c.Stage2Ratio,
		Stage3Ratio:               c.Stage3Ratio,
		Stage4Ratio:               c.Stage4Ratio,
		MinConfidenceThreshold:    c.MinConfidenceThreshold,
		MaxErrorRate:              c.MaxErrorRate,
		ConvergenceThreshold:      c.ConvergenceThreshold,
		StatsConvergenceThreshold: c.StatsConvergenceThreshold,
		SkipHITL:                  c.SkipHITL,
		EnableAutoApproval:        c.EnableAutoApproval,
		EnableCheckpoints:         c.EnableCheckpoints,
		ContinueOnRuleFailure:     c.ContinueOnRuleFailure,
		CheckpointDir:             c.CheckpointDir,
		OutputDir:                 c.OutputDir,
		BulkProcessingChunkSize:   c.ChunkSize,
		Seed:                      c.Seed,
		Sampling:                  c.Sampling,
		Analysis:                  an,
	}
}

// LoadOptions returns the dataset reader settings.
func (c *Global) LoadOptions() table.LoadOptions {
	opt := table.LoadOptions{Sheet: c.Sheet, NullTokens: c.NullTokens}
	if r := firstRune(c.Delimiter); r != 0 {
		opt.Delimiter = r
	}
	if n, err := strconv.Atoi(c.Sheet); err == nil && n > 0 {
		opt.Sheet, opt.SheetIndex = "", n
	}
	return opt
}

func (c *Global) NumberFormat() table.NumberFormat {
	return table.NumberFormat{
		DecimalSeparator:   firstRune(c.DecimalSeparator),
		ThousandsSeparator: firstRune(c.ThousandsSeparator),
	}
}

func firstRune(s string) rune {
	if s == `\t` || s == "tab" {
		return '\t'
	}
	for _, r := range s {
		return r
	}
	return 0
}

// Set assigns a single key from its string form. Keys use the yaml names.
func (c *Global) Set(key, val string) error {
	parseFloat := func(dst *float64) error {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid float for %s: %v", key, val)
		}
		*dst = f
		return nil
	}
	parseBool := func(dst *bool) error {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid bool for %s: %v", key, val)
		}
		*dst = b
		return nil
	}
	parseInt := func(dst *int) error {
		i, err := strconv.Atoi(val)
		if err != nil || i < 0 {
			return fmt.Errorf("invalid int for %s: %v", key, val)
		}
		*dst = i
		return nil
	}
	switch key {
	case "stage1_ratio":
		return parseFloat(&c.Stage1Ratio)
	case "stage2_ratio":
		return parseFloat(&c.Stage2Ratio)
	case "stage3_ratio":
		return parseFloat(&c.Stage3Ratio)
	case "stage4_ratio":
		return parseFloat(&c.Stage4Ratio)
	case "min_confidence_threshold":
		return parseFloat(&c.MinConfidenceThreshold)
	case "max_error_rate":
		return parseFloat(&c.MaxErrorRate)
	case "convergence_threshold":
		return parseFloat(&c.ConvergenceThreshold)
	case "stats_convergence_threshold":
		return parseFloat(&c.StatsConvergenceThreshold)
	case "skip_hitl":
		return parseBool(&c.SkipHITL)
	case "enable_auto_approval":
		return parseBool(&c.EnableAutoApproval)
	case "enable_checkpoints":
		return parseBool(&c.EnableCheckpoints)
	case "continue_on_rule_failure":
		return parseBool(&c.ContinueOnRuleFailure)
	case "checkpoint_dir":
		c.CheckpointDir = val
	case "output_dir":
		c.OutputDir = val
	case "chunk_size":
		return parseInt(&c.ChunkSize)
	case "seed":
		s, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seed: %v", val)
		}
		c.Seed = s
	case "sampling.strategy":
		s, err := sampling.ParseStrategy(val)
		if err != nil {
			return err
		}
		c.Sampling.Strategy = s
	case "sampling.label_column":
		c.Sampling.LabelColumn = val
	case "sampling.tolerance":
		return parseFloat(&c.Sampling.Tolerance)
	case "analysis.workers":
		return parseInt(&c.Analysis.Workers)
	case "analysis.outlier_method":
		switch m := analysis.OutlierMethod(strings.ToLower(val)); m {
		case analysis.OutlierIQR, analysis.OutlierZScore, analysis.OutlierNone:
			c.Analysis.OutlierMethod = m
		default:
			return fmt.Errorf("invalid outlier_method: %s (use iqr, zscore or none)", val)
		}
	case "delimiter":
		c.Delimiter = val
	case "sheet":
		c.Sheet = val
	case "null_tokens":
		c.NullTokens = splitList(val)
	case "decimal_separator":
		c.DecimalSeparator = val
	case "thousands_separator":
		c.ThousandsSeparator = val
	case "user":
		c.User = val
	case "decision_store":
		switch val {
		case StoreFile, StoreBadger:
			c.DecisionStore = val
		default:
			return fmt.Errorf("invalid decision_store: %s (use file or badger)", val)
		}
	case "decision_dir":
		c.DecisionDir = val
	case "log_format":
		c.LogFormat = val
	case "telemetry.trace_exporter":
		c.Telemetry.TraceExporter = val
	case "telemetry.metric_exporter":
		c.Telemetry.MetricExporter = val
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
