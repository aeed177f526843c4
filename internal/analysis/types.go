package analysis

import (
	"errors"
	"time"

	"github.com/KaramelBytes/dataloom-cli/internal/table"
)

// ErrNilInput is returned when the sample or options are missing.
var ErrNilInput = errors.New("analysis: nil input")

// ColumnType is the inferred semantic type of a column.
type ColumnType string

const (
	Numeric     ColumnType = "numeric"
	Categorical ColumnType = "categorical"
	Text        ColumnType = "text"
	DateTime    ColumnType = "datetime"
	Boolean     ColumnType = "boolean"
	Empty       ColumnType = "empty"
)

// OutlierMethod selects how numeric outliers are counted.
type OutlierMethod string

const (
	OutlierIQR    OutlierMethod = "iqr"
	OutlierZScore OutlierMethod = "zscore"
	OutlierNone   OutlierMethod = "none"
)

// Options controls the analyzer.
type Options struct {
	// Workers bounds concurrent column profiling; 0 means one per column.
	Workers              int           `mapstructure:"workers" yaml:"workers" json:"workers"`
	ComputeHigherMoments bool          `mapstructure:"higher_moments" yaml:"higher_moments" json:"higher_moments"`
	OutlierMethod        OutlierMethod `mapstructure:"outlier_method" yaml:"outlier_method" json:"outlier_method"`
	ZScoreThreshold      float64       `mapstructure:"zscore_threshold" yaml:"zscore_threshold" json:"zscore_threshold"`
	IQRMultiplier        float64       `mapstructure:"iqr_multiplier" yaml:"iqr_multiplier" json:"iqr_multiplier"`
	MaxCategoricalValues int           `mapstructure:"max_categorical_values" yaml:"max_categorical_values" json:"max_categorical_values"`
	// Percentiles are quantiles in (0,1) reported as p<100*q>.
	Percentiles []float64 `mapstructure:"percentiles" yaml:"percentiles" json:"percentiles"`
	// TextMinAvgLength marks non-numeric columns with long values as free text.
	TextMinAvgLength int                `mapstructure:"text_min_avg_length" yaml:"text_min_avg_length" json:"text_min_avg_length"`
	NumberFormat     table.NumberFormat `mapstructure:"-" yaml:"-" json:"-"`
}

// DefaultOptions returns IQR outliers, higher moments on and a top-10 category list.
func DefaultOptions() Options {
	return Options{
		ComputeHigherMoments: true,
		OutlierMethod:        OutlierIQR,
		ZScoreThreshold:      3,
		IQRMultiplier:        1.5,
		MaxCategoricalValues: 10,
		Percentiles:          []float64{0.01, 0.05, 0.10, 0.25, 0.50, 0.75, 0.90, 0.95, 0.99},
		TextMinAvgLength:     40,
	}
}

// NumericStats describes a numeric distribution.
type NumericStats struct {
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	Median   float64 `json:"median"`
	Mode     float64 `json:"mode"`
	Variance float64 `json:"variance"`
	StdDev   float64 `json:"std_dev"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Q1       float64 `json:"q1"`
	Q3       float64 `json:"q3"`
	IQR      float64 `json:"iqr"`
	// Skewness and Kurtosis (excess) are set only when HasMoments is true.
	Skewness      float64            `json:"skewness"`
	Kurtosis      float64            `json:"kurtosis"`
	HasMoments    bool               `json:"has_moments"`
	OutlierMethod OutlierMethod      `json:"outlier_method"`
	OutlierCount  int                `json:"outlier_count"`
	LowerBound    float64            `json:"lower_bound"`
	UpperBound    float64            `json:"upper_bound"`
	Percentiles   map[string]float64 `json:"percentiles,omitempty"`
	// Overflow is set when a statistic exceeded the float64 range and was clamped.
	Overflow bool `json:"overflow,omitempty"`
}

// ValueCount is a category and its frequency.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// CategoricalStats describes a categorical distribution.
type CategoricalStats struct {
	Count             int          `json:"count"`
	Unique            int          `json:"unique"`
	CardinalityRatio  float64      `json:"cardinality_ratio"`
	TopValues         []ValueCount `json:"top_values"`
	Mode              string       `json:"mode"`
	ModeCount         int          `json:"mode_count"`
	Entropy           float64      `json:"entropy"`
	IsIdentifier      bool         `json:"is_identifier"`
	IsLowCardinality  bool         `json:"is_low_cardinality"`
	IsHighCardinality bool         `json:"is_high_cardinality"`
}

// ColumnAnalysis profiles one column of a sample.
type ColumnAnalysis struct {
	Name        string     `json:"name"`
	Index       int        `json:"index"`
	Type        ColumnType `json:"type"`
	Count       int        `json:"count"`
	NonNull     int        `json:"non_null"`
	NullCount   int        `json:"null_count"`
	NullPercent float64    `json:"null_percent"`
	// InvalidCount is the number of non-missing values that do not parse as the inferred type.
	InvalidCount int               `json:"invalid_count"`
	Numeric      *NumericStats     `json:"numeric,omitempty"`
	Categorical  *CategoricalStats `json:"categorical,omitempty"`
	Issues       []string          `json:"issues,omitempty"`
}

// SampleAnalysis is the profile of one sample. It is not modified after Analyze returns.
type SampleAnalysis struct {
	Name         string           `json:"name,omitempty"`
	Stage        int              `json:"stage"`
	SampleRatio  float64          `json:"sample_ratio"`
	RowCount     int              `json:"row_count"`
	ColumnCount  int              `json:"column_count"`
	Columns      []ColumnAnalysis `json:"columns"`
	QualityScore float64          `json:"quality_score"`
	AnalyzedAt   time.Time        `json:"analyzed_at"`
	Duration     time.Duration    `json:"duration"`
}

// Column returns the named column profile.
func (a *SampleAnalysis) Column(name string) (*ColumnAnalysis, bool) {
	if a == nil {
		return nil, false
	}
	for i := range a.Columns {
		if a.Columns[i].Name == name {
			return &a.Columns[i], true
		}
	}
	return nil, false
}
