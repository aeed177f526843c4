package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/dataloom-cli/internal/analysis"
	"github.com/KaramelBytes/dataloom-cli/internal/table"
)

func dirtyTable() *table.Table {
	t := table.New("dirty", []string{"id", "city", "age", "price"})
	cities := []string{
		"Paris", "Paris", "Paris", "Paris", "Paris", "Paris", "Paris", "Paris",
		"paris", "paris",
		"Lyon", "Lyon", "Lyon", "Lyon", "Lyon", "Lyon", "Lyon", "Lyon  ",
		"Nice", "Nice",
	}
	for i := 0; i < 20; i++ {
		age := fmt.Sprint(30 + i%10)
		switch i {
		case 18:
			age = "300"
		case 19:
			age = ""
		}
		price := fmt.Sprint(10 + i)
		switch i {
		case 18:
			price = "unknown"
		case 19:
			price = "n/a"
		}
		t.AppendRow([]string{fmt.Sprint(i + 1), cities[i], age, price})
	}
	return t
}

func analyze(t *testing.T, tbl *table.Table, stage int) *analysis.SampleAnalysis {
	t.Helper()
	opt := analysis.DefaultOptions()
	an, err := analysis.NewAnalyzer(nil).Analyze(context.Background(), tbl, stage, 1, &opt)
	require.NoError(t, err)
	return an
}

func ruleIDs(rs []*Rule) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func TestDiscoverRules(t *testing.T) {
	tbl := dirtyTable()
	eng := NewEngine(nil, nil)
	found, err := eng.DiscoverRules(context.Background(), tbl, analyze(t, tbl, 1), 1)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"whitespace:city",
		"category_mapping:city",
		"type_coercion:price",
		"missing_value:age",
		"outlier:age",
	}, ruleIDs(found))

	byID := map[string]*Rule{}
	for _, r := range found {
		byID[r.ID] = r
		assert.Equal(t, 1, r.DiscoveredInStage)
		assert.Equal(t, Pending, r.Status)
		assert.Greater(t, r.Confidence, 0.0)
		assert.LessOrEqual(t, r.Confidence, 1.0)
		assert.NotEmpty(t, r.Description)
	}
	assert.False(t, byID["whitespace:city"].RequiresHITL)
	for _, id := range []string{"category_mapping:city", "type_coercion:price", "missing_value:age", "outlier:age"} {
		assert.True(t, byID[id].RequiresHITL, id)
	}

	cat := byID["category_mapping:city"]
	assert.Equal(t, 3, cat.AffectedRows)
	spec := cat.Spec.(*CategoryMappingSpec)
	assert.Equal(t, map[string]string{"paris": "Paris", "lyon": "Lyon"}, spec.Canonical)

	assert.Equal(t, 1, byID["missing_value:age"].AffectedRows)
	assert.True(t, byID["missing_value:age"].Spec.(*MissingValueSpec).Numeric)
	assert.Equal(t, []string{"300"}, byID["outlier:age"].Examples)
	assert.Equal(t, 2, byID["type_coercion:price"].AffectedRows)
	assert.ElementsMatch(t, []string{"unknown", "n/a"}, byID["type_coercion:price"].Examples)
}

func TestDiscoverRulesErrors(t *testing.T) {
	eng := NewEngine(nil, nil)
	_, err := eng.DiscoverRules(context.Background(), nil, &analysis.SampleAnalysis{}, 1)
	assert.ErrorIs(t, err, ErrNilInput)

	tbl := dirtyTable()
	an := analyze(t, tbl, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = eng.DiscoverRules(ctx, tbl, an, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutlierOccurrenceFloor(t *testing.T) {
	tbl := table.New("t", []string{"v"})
	for i := 0; i < 200; i++ {
		tbl.AppendRow([]string{fmt.Sprint(30 + i%10)})
	}
	tbl.AppendRow([]string{"999"})
	an := analyze(t, tbl, 1)

	found, err := NewEngine(nil, nil).DiscoverRules(context.Background(), tbl, an, 1)
	require.NoError(t, err)
	assert.Empty(t, found, "one outlier in 201 rows is below the one percent floor")

	opt := DefaultDetectorOptions()
	opt.MinOutlierFraction = 0
	found, err = NewEngine(DefaultRegistry(opt), nil).DiscoverRules(context.Background(), tbl, an, 1)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "outlier:v", found[0].ID)
}

func TestCalculateConfidence(t *testing.T) {
	eng := NewEngine(nil, nil)
	tbl := dirtyTable()
	an := analyze(t, tbl, 1)
	found, err := eng.DiscoverRules(context.Background(), tbl, an, 1)
	require.NoError(t, err)

	var outlier *Rule
	for _, r := range found {
		if r.ID == "outlier:age" {
			outlier = r
		}
	}
	require.NotNil(t, outlier)

	c, err := eng.CalculateConfidence(context.Background(), outlier, tbl, an)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, c, 1e-12)

	clean := table.New("clean", []string{"age"})
	for i := 0; i < 20; i++ {
		clean.AppendRow([]string{fmt.Sprint(30 + i%10)})
	}
	c, err = eng.CalculateConfidence(context.Background(), outlier, clean, analyze(t, clean, 2))
	require.NoError(t, err)
	assert.Zero(t, c)

	_, err = eng.CalculateConfidence(context.Background(), &Rule{Pattern: "nope"}, clean, analyze(t, clean, 2))
	assert.ErrorIs(t, err, ErrNoDetector)
}

func TestConvergenceAndMerge(t *testing.T) {
	a := []*Rule{{ID: "missing_value:x"}, {ID: "outlier:y"}}
	b := []*Rule{{ID: "outlier:y"}, {ID: "missing_value:x"}}
	c := []*Rule{{ID: "outlier:y"}}

	assert.True(t, HasConverged(a, b, 1))
	assert.True(t, HasConverged(nil, nil, 1))
	assert.False(t, HasConverged(a, c, 1))
	assert.InDelta(t, 0.5, Jaccard(a, c), 1e-12)
	assert.True(t, HasConverged(a, c, 0.5))

	decided := &Rule{ID: "outlier:y", Priority: 50, Status: Approved, IsApproved: true, Action: Cap, AffectedRows: 1}
	merged, added, reopened := MergeRules([]*Rule{decided}, []*Rule{
		{ID: "outlier:y", Priority: 50, AffectedRows: 4, Status: Pending},
		{ID: "missing_value:x", Priority: 40, Status: Pending},
	})
	assert.Equal(t, []string{"missing_value:x", "outlier:y"}, ruleIDs(merged))
	assert.Equal(t, []string{"missing_value:x"}, ruleIDs(added))
	assert.Empty(t, reopened)
	assert.Equal(t, Approved, merged[1].Status)
	assert.Equal(t, 1, merged[1].AffectedRows, "decided rules keep their reviewed evidence")

	pending := newRule(MissingValue, PatternMissingValues, "x", 40, true, 1, &MissingValueSpec{Column: "x"})
	merged, _, reopened = MergeRules([]*Rule{pending}, []*Rule{
		{ID: "missing_value:x", AffectedRows: 7, Status: Pending, Spec: &MissingValueSpec{Column: "x", Numeric: true}},
	})
	assert.Empty(t, reopened)
	assert.Equal(t, 7, merged[0].AffectedRows)
	assert.True(t, merged[0].Spec.(*MissingValueSpec).Numeric)
}

func TestMergeKeepsReviewedPayload(t *testing.T) {
	reviewed := newRule(CategoryMapping, PatternCategoryVariations, "v", 20, true, 1,
		&CategoryMappingSpec{Column: "v", Canonical: map[string]string{"paris": "Paris"}})
	require.NoError(t, reviewed.Approve(Merge, "", "ok"))

	same := newRule(CategoryMapping, PatternCategoryVariations, "v", 20, true, 2,
		&CategoryMappingSpec{Column: "v", Canonical: map[string]string{"paris": "Paris"}})
	same.AffectedRows = 9
	merged, _, reopened := MergeRules([]*Rule{reviewed}, []*Rule{same})
	assert.Empty(t, reopened)
	assert.Equal(t, Approved, merged[0].Status)
	assert.Zero(t, merged[0].AffectedRows)

	changed := newRule(CategoryMapping, PatternCategoryVariations, "v", 20, true, 3,
		&CategoryMappingSpec{Column: "v", Canonical: map[string]string{"paris": "paris", "lyon": "LYON"}})
	merged, added, reopened := MergeRules(merged, []*Rule{changed})
	assert.Empty(t, added)
	require.Equal(t, []string{"category_mapping:v"}, ruleIDs(reopened))
	r := merged[0]
	assert.Equal(t, Pending, r.Status)
	assert.False(t, r.IsApproved)
	assert.Empty(t, r.Action)
	assert.False(t, r.Decided())
	assert.Equal(t, "LYON", r.Spec.(*CategoryMappingSpec).Canonical["lyon"])

	// Only a fresh approval applies the new mapping.
	require.NoError(t, r.Approve(Merge, "", "reviewed again"))
	tbl := column("Paris", "paris", "Lyon", "LYON")
	apply(t, r.Spec, tbl, r.Action, "")
	assert.Equal(t, []string{"paris", "paris", "LYON", "LYON"}, tbl.Columns[0].Values)
}

func TestOutlierBoundsDoNotReopen(t *testing.T) {
	reviewed := newRule(Outlier, PatternOutliers, "age", 50, true, 1,
		&OutlierSpec{Column: "age", Method: analysis.OutlierIQR, Lower: 0, Upper: 100})
	require.NoError(t, reviewed.Approve(Cap, "", "ok"))

	drift := newRule(Outlier, PatternOutliers, "age", 50, true, 2,
		&OutlierSpec{Column: "age", Method: analysis.OutlierIQR, Lower: 5, Upper: 90})
	merged, _, reopened := MergeRules([]*Rule{reviewed}, []*Rule{drift})
	assert.Empty(t, reopened)
	assert.Equal(t, 100.0, merged[0].Spec.(*OutlierSpec).Upper)

	other := newRule(Outlier, PatternOutliers, "age", 50, true, 3,
		&OutlierSpec{Column: "age", Method: analysis.OutlierZScore, Lower: 5, Upper: 90})
	_, _, reopened = MergeRules(merged, []*Rule{other})
	assert.Len(t, reopened, 1)

	assert.True(t, Equivalent(nil, nil))
	assert.False(t, Equivalent(&WhitespaceSpec{Column: "a"}, nil))
	assert.False(t, Equivalent(&WhitespaceSpec{Column: "a"}, &MissingValueSpec{Column: "a"}))
}

func TestRuleDecisions(t *testing.T) {
	r := newRule(Outlier, PatternOutliers, "v", 50, true, 1, &OutlierSpec{Column: "v"})
	require.NoError(t, r.Approve("", "", "ok"))
	assert.Equal(t, Approved, r.Status)
	assert.True(t, r.IsApproved)
	assert.Equal(t, Cap, r.Action)

	require.NoError(t, r.Approve(KeepAsIs, "", "leave it"))
	assert.Equal(t, Rejected, r.Status)
	assert.False(t, r.IsApproved)
	assert.True(t, r.Decided())

	err := r.Approve(ImputeMean, "", "")
	assert.ErrorIs(t, err, ErrUnsupportedAction)
}

func TestRuleJSONKeepsVariant(t *testing.T) {
	r := newRule(Outlier, PatternOutliers, "age", 50, true, 2, &OutlierSpec{Column: "age", Method: analysis.OutlierIQR, Lower: 1, Upper: 9})
	require.NoError(t, r.Approve(Cap, "", "cap it"))

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"spec":{"type":"outlier"`)

	var back Rule
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, r.ID, back.ID)
	assert.Equal(t, Approved, back.Status)
	spec, ok := back.Spec.(*OutlierSpec)
	require.True(t, ok)
	assert.Equal(t, 9.0, spec.Upper)

	err = json.Unmarshal([]byte(`{"id":"x","spec":{"type":"nope","params":{}}}`), &back)
	assert.ErrorIs(t, err, ErrUnknownRuleType)

	assert.ElementsMatch(t, []RuleType{CategoryMapping, MissingValue, Outlier, TypeCoercion, WhitespaceNormalization}, RegisteredTypes())
}

func column(vals ...string) *table.Table {
	t := table.New("t", []string{"v"})
	for _, v := range vals {
		t.AppendRow([]string{v})
	}
	return t
}

func apply(t *testing.T, s Spec, tbl *table.Table, action Action, custom string) ApplyStats {
	t.Helper()
	st, err := s.Apply(&ApplyContext{Context: context.Background(), Table: tbl, Action: action, CustomValue: custom, ChunkSize: 2})
	require.NoError(t, err)
	return st
}

func TestMissingValueApply(t *testing.T) {
	num := &MissingValueSpec{Column: "v", Numeric: true}

	tbl := column("1", "", "3")
	st := apply(t, num, tbl, ImputeMean, "")
	assert.Equal(t, []string{"1", "2", "3"}, tbl.Columns[0].Values)
	assert.Equal(t, 1, st.RowsAffected)
	assert.Equal(t, 2, st.RowsSkipped)

	tbl = column("1", "", "3", "10")
	apply(t, num, tbl, ImputeMedian, "")
	assert.Equal(t, "3", tbl.Columns[0].Values[1])

	cat := &MissingValueSpec{Column: "v"}
	tbl = column("a", "", "a", "b")
	apply(t, cat, tbl, ImputeMode, "")
	assert.Equal(t, "a", tbl.Columns[0].Values[1])

	tbl = column("a", " ", "b")
	apply(t, cat, tbl, ImputeCustom, "Unknown")
	assert.Equal(t, "Unknown", tbl.Columns[0].Values[1])

	tbl = column("a", "", "b", "")
	st = apply(t, cat, tbl, Delete, "")
	assert.Equal(t, 2, st.RowsDeleted)
	assert.Equal(t, []string{"a", "b"}, tbl.Columns[0].Values)

	_, err := cat.Apply(&ApplyContext{Context: context.Background(), Table: column("a", ""), Action: ImputeCustom})
	assert.Error(t, err)
	_, err = cat.Apply(&ApplyContext{Context: context.Background(), Table: column("a"), Action: Cap})
	assert.ErrorIs(t, err, ErrUnsupportedAction)
	_, err = (&MissingValueSpec{Column: "zz"}).Apply(&ApplyContext{Context: context.Background(), Table: column("a"), Action: Delete})
	assert.ErrorIs(t, err, table.ErrColumnNotFound)
}

func TestOutlierApply(t *testing.T) {
	spec := &OutlierSpec{Column: "v", Method: analysis.OutlierIQR, Lower: 0, Upper: 10}

	tbl := column("5", "-3", "20", "x")
	st := apply(t, spec, tbl, Cap, "")
	assert.Equal(t, []string{"5", "0", "10", "x"}, tbl.Columns[0].Values)
	assert.Equal(t, 2, st.RowsAffected)

	tbl = column("5", "-3", "20", "x")
	st = apply(t, spec, tbl, Delete, "")
	assert.Equal(t, 2, st.RowsDeleted)
	assert.Equal(t, []string{"5", "x"}, tbl.Columns[0].Values)

	tbl = column("5", "-3", "20", "x")
	apply(t, spec, tbl, Flag, "")
	flag, ok := tbl.Column("v_outlier")
	require.True(t, ok)
	assert.Equal(t, []string{"false", "true", "true", "false"}, flag.Values)
}

func TestCategoryWhitespaceCoercionApply(t *testing.T) {
	tbl := column("paris", "Paris", "PARIS ", "Lyon")
	st := apply(t, &CategoryMappingSpec{Column: "v", Canonical: map[string]string{"paris": "Paris"}}, tbl, Merge, "")
	assert.Equal(t, []string{"Paris", "Paris", "Paris", "Lyon"}, tbl.Columns[0].Values)
	assert.Equal(t, 2, st.RowsAffected)

	tbl = column(" a", "b  c", "d")
	st = apply(t, &WhitespaceSpec{Column: "v"}, tbl, Trim, "")
	assert.Equal(t, []string{"a", "b c", "d"}, tbl.Columns[0].Values)
	assert.Equal(t, 2, st.RowsAffected)

	coerce := &TypeCoercionSpec{Column: "v", Target: analysis.Numeric}
	tbl = column("1", "x", "3", "")
	st = apply(t, coerce, tbl, Coerce, "")
	assert.Equal(t, []string{"1", "", "3", ""}, tbl.Columns[0].Values)
	assert.Equal(t, 1, st.RowsAffected)

	tbl = column("1", "x", "3")
	st = apply(t, coerce, tbl, Delete, "")
	assert.Equal(t, 1, st.RowsDeleted)

	tbl = column("1", "x")
	st = apply(t, coerce, tbl, KeepAsIs, "")
	assert.Equal(t, ApplyStats{}, st)
	assert.Equal(t, []string{"1", "x"}, tbl.Columns[0].Values)
}

func TestApplyHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&WhitespaceSpec{Column: "v"}).Apply(&ApplyContext{Context: ctx, Table: column(" a"), Action: Trim})
	assert.ErrorIs(t, err, context.Canceled)
}
