package link

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shapeshifter/internal/dataset"
	"shapeshifter/internal/model"
)

func ptr[T any](v T) *T { return &v }

func sites() *dataset.Dataset {
	return dataset.New([]string{"site_id", "site_code", "name"}, [][]any{
		{int64(1), "S1", "Alpha"},
		{int64(2), "S2", "Beta"},
	})
}

func samples() *dataset.Dataset {
	return dataset.New([]string{"sample", "site_code"}, [][]any{
		{"X1", "S1"},
		{"X2", "S1"},
	})
}

func baseSpec() Spec {
	return Spec{
		Left: "sample", Right: "site",
		LocalKeys: []string{"site_code"}, RemoteKeys: []string{"site_code"},
		RemoteID: "site_id",
	}
}

func TestManyToOne(t *testing.T) {
	spec := baseSpec()
	spec.Constraints = &model.Constraints{Cardinality: model.ManyToOne}

	out, stats, err := Link(samples(), sites(), spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"sample", "site_code", "site_id"}, out.Columns)
	assert.Equal(t, [][]any{{"X1", "S1", int64(1)}, {"X2", "S1", int64(1)}}, out.Rows)
	assert.Equal(t, 2, stats.Matched)
	assert.Equal(t, 1, stats.RightOnly)
	assert.Equal(t, 1.0, stats.MatchRate)
}

func TestOneToOneRejectsDuplicateLeftKeys(t *testing.T) {
	spec := baseSpec()
	spec.Constraints = &model.Constraints{Cardinality: model.OneToOne}

	_, _, err := Link(samples(), sites(), spec)
	var ce *ConstraintError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "cardinality", ce.Constraint)
	assert.Equal(t, 1.0, ce.Observed)
	assert.Equal(t, "sample", ce.Left)
	assert.Equal(t, "site", ce.Right)
}

func matchRateInput() (*dataset.Dataset, *dataset.Dataset) {
	left := dataset.New([]string{"code"}, nil)
	right := dataset.New([]string{"code"}, nil)
	for i := 0; i < 100; i++ {
		left.Rows = append(left.Rows, []any{fmt.Sprintf("c%d", i)})
		if i < 85 {
			right.Rows = append(right.Rows, []any{fmt.Sprintf("c%d", i)})
		}
	}
	return left, right
}

func TestMinMatchRate(t *testing.T) {
	left, right := matchRateInput()
	spec := Spec{Left: "l", Right: "r", LocalKeys: []string{"code"}, RemoteKeys: []string{"code"}, How: model.JoinLeft,
		Constraints: &model.Constraints{MinMatchRate: ptr(0.9)}}

	_, stats, err := Link(left, right, spec)
	var ce *ConstraintError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "min_match_rate", ce.Constraint)
	assert.InDelta(t, 0.85, ce.Observed, 1e-9)
	assert.Equal(t, 0.9, ce.Expected)
	require.NotNil(t, stats)
	assert.Equal(t, 85, stats.Matched)

	spec.Constraints.MinMatchRate = ptr(0.8)
	out, _, err := Link(left, right, spec)
	require.NoError(t, err)
	assert.Equal(t, 100, out.Len())
}

func TestInnerJoinRowDecrease(t *testing.T) {
	left, right := matchRateInput()
	spec := Spec{Left: "l", Right: "r", LocalKeys: []string{"code"}, RemoteKeys: []string{"code"},
		Constraints: &model.Constraints{}}

	_, _, err := Link(left, right, spec)
	assert.ErrorContains(t, err, "constraint allow_row_decrease violated")

	spec.Constraints.AllowRowDecrease = ptr(true)
	out, _, err := Link(left, right, spec)
	require.NoError(t, err)
	assert.Equal(t, 85, out.Len())

	spec.Constraints = nil
	out, _, err = Link(left, right, spec)
	require.NoError(t, err)
	assert.Equal(t, 85, out.Len())
}

func TestNullKeysNeverMatch(t *testing.T) {
	left := dataset.New([]string{"k"}, [][]any{{nil}, {"a"}})
	right := dataset.New([]string{"k", "v"}, [][]any{{nil, 1}, {"a", 2}})
	spec := Spec{Left: "l", Right: "r", LocalKeys: []string{"k"}, RemoteKeys: []string{"k"}, How: model.JoinLeft,
		ExtraColumns: map[string]string{"v": "v"}}

	out, stats, err := Link(left, right, spec)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{nil, nil}, {"a", 2}}, out.Rows)
	assert.Equal(t, 1, stats.Matched)

	spec.Constraints = &model.Constraints{AllowNullKeys: ptr(false)}
	_, _, err = Link(left, right, spec)
	assert.ErrorContains(t, err, "constraint allow_null_keys violated")
}

func TestNumericKeysMatchAcrossTypes(t *testing.T) {
	left := dataset.New([]string{"k"}, [][]any{{1}, {2.0}})
	right := dataset.New([]string{"k", "label"}, [][]any{{int64(1), "one"}, {int64(2), "two"}})
	spec := Spec{Left: "l", Right: "r", LocalKeys: []string{"k"}, RemoteKeys: []string{"k"},
		ExtraColumns: map[string]string{"label": "label"}}

	out, _, err := Link(left, right, spec)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{1, "one"}, {2.0, "two"}}, out.Rows)
}

func TestRightAndOuterFillLocalKeys(t *testing.T) {
	spec := baseSpec()
	spec.How = model.JoinRight
	out, _, err := Link(samples(), sites(), spec)
	require.NoError(t, err)
	assert.Equal(t, []any{nil, "S2", int64(2)}, out.Rows[2])

	left := dataset.New([]string{"sample", "site_code"}, [][]any{{"X9", "S9"}})
	spec.How = model.JoinOuter
	out, stats, err := Link(left, sites(), spec)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Len())
	assert.Equal(t, []any{"X9", "S9", nil}, out.Rows[0])
	assert.Equal(t, 1, stats.LeftOnly)
	assert.Equal(t, 2, stats.RightOnly)
}

func TestCrossJoin(t *testing.T) {
	left := dataset.New([]string{"a"}, [][]any{{1}, {2}})
	right := dataset.New([]string{"b"}, [][]any{{"x"}, {"y"}})

	out, _, err := Link(left, right, Spec{Left: "l", Right: "r", How: model.JoinCross, ExtraColumns: map[string]string{"b": "b"}})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{1, "x"}, {1, "y"}, {2, "x"}, {2, "y"}}, out.Rows)

	_, _, err = Link(left, right, Spec{Left: "l", Right: "r", How: model.JoinCross, LocalKeys: []string{"a"}, RemoteKeys: []string{"b"}})
	assert.ErrorContains(t, err, "cross join takes no keys")
}

func TestOutputColumns(t *testing.T) {
	spec := baseSpec()
	spec.DropRemoteID = true
	spec.ExtraColumns = map[string]string{"site_name": "name"}
	out, _, err := Link(samples(), sites(), spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"sample", "site_code", "site_name"}, out.Columns)

	spec.ExtraColumns = map[string]string{"sample": "name"}
	_, _, err = Link(samples(), sites(), spec)
	assert.ErrorContains(t, err, `column "sample" already exists`)

	spec.ExtraColumns = map[string]string{"x": "missing"}
	_, _, err = Link(samples(), sites(), spec)
	assert.ErrorContains(t, err, `column "missing" not found in site`)
}

func TestRowIncreaseLimits(t *testing.T) {
	left := dataset.New([]string{"k"}, [][]any{{"a"}, {"b"}})
	right := dataset.New([]string{"k"}, [][]any{{"a"}, {"a"}, {"a"}, {"b"}})
	spec := Spec{Left: "l", Right: "r", LocalKeys: []string{"k"}, RemoteKeys: []string{"k"},
		Constraints: &model.Constraints{MaxRowIncreaseAbs: ptr(1)}}

	_, _, err := Link(left, right, spec)
	var ce *ConstraintError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "max_row_increase_abs", ce.Constraint)
	assert.Equal(t, 2.0, ce.Observed)

	spec.Constraints = &model.Constraints{MaxRowIncreasePct: ptr(50.0)}
	_, _, err = Link(left, right, spec)
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "max_row_increase_pct", ce.Constraint)
	assert.Equal(t, 100.0, ce.Observed)
}

func TestUnmatchedConstraints(t *testing.T) {
	spec := baseSpec()
	spec.Constraints = &model.Constraints{RequireAllRightMatched: true}
	_, _, err := Link(samples(), sites(), spec)
	assert.ErrorContains(t, err, "require_all_right_matched")

	spec.Constraints = &model.Constraints{AllowUnmatchedRight: ptr(false)}
	_, _, err = Link(samples(), sites(), spec)
	assert.ErrorContains(t, err, "allow_unmatched_right")

	spec.Constraints = &model.Constraints{RequireUniqueRight: true}
	_, _, err = Link(samples(), dataset.New([]string{"site_id", "site_code"}, [][]any{{1, "S1"}, {2, "S1"}}), spec)
	assert.ErrorContains(t, err, "require_unique_right")
}

func TestSpecFor(t *testing.T) {
	right := &model.Entity{Name: "site", SurrogateID: "site_id"}
	spec, err := SpecFor("sample", right, model.ForeignKeyLink{
		Entity: "site", LocalKeys: []string{"a"}, RemoteKeys: []string{"b"},
		ExtraColumns: map[string]any{"x": "y"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.JoinInner, spec.How)
	assert.Equal(t, "site_id", spec.RemoteID)
	assert.Equal(t, map[string]string{"x": "y"}, spec.ExtraColumns)

	_, err = SpecFor("sample", right, model.ForeignKeyLink{ExtraColumns: map[string]any{"x": 1}})
	assert.ErrorContains(t, err, "extra_columns.x")
}
