package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KaramelBytes/dataloom-cli/internal/table"
)

var (
	ErrNilInput          = errors.New("rules: nil input")
	ErrUnknownRuleType   = errors.New("rules: unknown rule type")
	ErrUnsupportedAction = errors.New("rules: action not supported by rule")
	ErrNoDetector        = errors.New("rules: no detector for pattern")
)

// RuleType names a rule variant.
type RuleType string

const (
	MissingValue            RuleType = "missing_value"
	Outlier                 RuleType = "outlier"
	CategoryMapping         RuleType = "category_mapping"
	WhitespaceNormalization RuleType = "whitespace"
	TypeCoercion            RuleType = "type_coercion"
)

// PatternType names what a detector looks for.
type PatternType string

const (
	PatternMissingValues      PatternType = "missing_values"
	PatternOutliers           PatternType = "outliers"
	PatternCategoryVariations PatternType = "category_variations"
	PatternWhitespace         PatternType = "whitespace"
	PatternTypeInconsistency  PatternType = "type_inconsistency"
)

// Action is the cleaning operation chosen for a rule.
type Action string

const (
	KeepAsIs     Action = "keep_as_is"
	Delete       Action = "delete"
	ImputeMean   Action = "impute_mean"
	ImputeMedian Action = "impute_median"
	ImputeMode   Action = "impute_mode"
	ImputeCustom Action = "impute_custom"
	Merge        Action = "merge"
	Cap          Action = "cap"
	Flag         Action = "flag"
	Trim         Action = "trim"
	Coerce       Action = "coerce"
)

// Status is the decision state of a rule.
type Status string

const (
	Pending  Status = "pending"
	Approved Status = "approved"
	Rejected Status = "rejected"
)

// Rule is a candidate cleaning action discovered in a sample.
// Rules are never deleted; decisions move them from Pending to Approved or Rejected.
type Rule struct {
	ID                string      `json:"id"`
	Type              RuleType    `json:"type"`
	TargetColumns     []string    `json:"target_columns"`
	Pattern           PatternType `json:"pattern"`
	Description       string      `json:"description"`
	Confidence        float64     `json:"confidence"`
	Priority          int         `json:"priority"`
	RequiresHITL      bool        `json:"requires_hitl"`
	DiscoveredInStage int         `json:"discovered_in_stage"`
	Status            Status      `json:"status"`
	IsApproved        bool        `json:"is_approved"`
	UserFeedback      string      `json:"user_feedback,omitempty"`
	Action            Action      `json:"action,omitempty"`
	CustomValue       string      `json:"custom_value,omitempty"`
	AffectedRows      int         `json:"affected_rows"`
	SampleRows        int         `json:"sample_rows"`
	Examples          []string    `json:"examples,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	Spec              Spec        `json:"-"`
}

// RuleID derives the stable identifier of a rule from its type and columns.
func RuleID(t RuleType, columns ...string) string {
	return string(t) + ":" + strings.Join(columns, ",")
}

// Column returns the first target column.
func (r *Rule) Column() string {
	if len(r.TargetColumns) == 0 {
		return ""
	}
	return r.TargetColumns[0]
}

// AffectedRate is the fraction of sample rows the rule matched.
func (r *Rule) AffectedRate() float64 {
	if r.SampleRows <= 0 {
		return 0
	}
	return float64(r.AffectedRows) / float64(r.SampleRows)
}

// Decided reports whether the rule has been approved or rejected.
func (r *Rule) Decided() bool { return r.Status == Approved || r.Status == Rejected }

// Approve marks the rule approved with the given action. An empty action
// selects the variant default.
func (r *Rule) Approve(action Action, custom, feedback string) error {
	if action == "" && r.Spec != nil {
		action = r.Spec.DefaultAction()
	}
	if action == KeepAsIs {
		r.Reject(feedback)
		return nil
	}
	if r.Spec != nil && !Supports(r.Spec, action) {
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedAction, action, r.ID)
	}
	r.Status = Approved
	r.IsApproved = true
	r.Action = action
	r.CustomValue = custom
	r.UserFeedback = feedback
	return nil
}

// Reject marks the rule decided but not applied.
func (r *Rule) Reject(feedback string) {
	r.Status = Rejected
	r.IsApproved = false
	r.Action = KeepAsIs
	r.UserFeedback = feedback
}

// Reopen clears a decision so the rule is reviewed again.
func (r *Rule) Reopen() {
	r.Status = Pending
	r.IsApproved = false
	r.Action = ""
	r.CustomValue = ""
	r.UserFeedback = ""
}

// Clone copies the rule. The Spec is shared; specs are treated as immutable.
func (r *Rule) Clone() *Rule {
	c := *r
	c.TargetColumns = append([]string(nil), r.TargetColumns...)
	c.Examples = append([]string(nil), r.Examples...)
	return &c
}

// ApplyContext carries what a Spec needs to modify a table.
type ApplyContext struct {
	Context      context.Context
	Table        *table.Table
	Action       Action
	CustomValue  string
	ChunkSize    int
	NumberFormat table.NumberFormat
}

// ApplyStats summarizes the effect of one rule.
type ApplyStats struct {
	RowsAffected int `json:"rows_affected"`
	RowsSkipped  int `json:"rows_skipped"`
	RowsDeleted  int `json:"rows_deleted"`
}

// Spec is the variant payload of a rule.
type Spec interface {
	Type() RuleType
	DefaultAction() Action
	Actions() []Action
	Apply(ac *ApplyContext) (ApplyStats, error)
}

// Supports reports whether s accepts action.
func Supports(s Spec, action Action) bool {
	for _, a := range s.Actions() {
		if a == action {
			return true
		}
	}
	return false
}

// Equivalent reports whether two payloads clean a table the same way.
// Payloads implementing Equivalent(Spec) bool decide for themselves; others
// compare by their JSON encoding.
func Equivalent(a, b Spec) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Type() != b.Type() {
		return false
	}
	if eq, ok := a.(interface{ Equivalent(Spec) bool }); ok {
		return eq.Equivalent(b)
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

var (
	specsMu sync.RWMutex
	specs   = make(map[RuleType]func() Spec)
)

// RegisterSpec makes a rule variant decodable by type name.
// It panics if called twice for the same type.
func RegisterSpec(t RuleType, factory func() Spec) {
	specsMu.Lock()
	defer specsMu.Unlock()
	if factory == nil {
		panic("rules: RegisterSpec factory is nil")
	}
	if _, dup := specs[t]; dup {
		panic("rules: RegisterSpec called twice for " + string(t))
	}
	specs[t] = factory
}

// RegisteredTypes lists the decodable rule types.
func RegisteredTypes() []RuleType {
	specsMu.RLock()
	defer specsMu.RUnlock()
	out := make([]RuleType, 0, len(specs))
	for t := range specs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type specEnvelope struct {
	Type   RuleType        `json:"type"`
	Params json.RawMessage `json:"params"`
}

type ruleAlias Rule

type ruleJSON struct {
	*ruleAlias
	Spec *specEnvelope `json:"spec,omitempty"`
}

// MarshalJSON encodes the variant payload as {"type": ..., "params": ...}.
func (r Rule) MarshalJSON() ([]byte, error) {
	alias := ruleAlias(r)
	out := ruleJSON{ruleAlias: &alias}
	if r.Spec != nil {
		params, err := json.Marshal(r.Spec)
		if err != nil {
			return nil, fmt.Errorf("encode spec %s: %w", r.ID, err)
		}
		out.Spec = &specEnvelope{Type: r.Spec.Type(), Params: params}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the variant payload through the registered factory.
func (r *Rule) UnmarshalJSON(data []byte) error {
	in := ruleJSON{ruleAlias: (*ruleAlias)(r)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Spec == nil {
		r.Spec = nil
		return nil
	}
	specsMu.RLock()
	factory, ok := specs[in.Spec.Type]
	specsMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRuleType, in.Spec.Type)
	}
	s := factory()
	if len(in.Spec.Params) > 0 {
		if err := json.Unmarshal(in.Spec.Params, s); err != nil {
			return fmt.Errorf("decode spec %s: %w", in.Spec.Type, err)
		}
	}
	r.Spec = s
	return nil
}

// eachChunk calls fn for consecutive [lo,hi) ranges of n rows, checking ctx between chunks.
func eachChunk(ctx context.Context, n, size int, fn func(lo, hi int)) error {
	if size <= 0 {
		size = 10000
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for lo := 0; lo < n; lo += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(lo, min(lo+size, n))
	}
	return nil
}
