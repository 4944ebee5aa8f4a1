package merge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shapeshifter/internal/dataset"
	"shapeshifter/internal/model"
)

func TestMergeReordersFragmentColumns(t *testing.T) {
	base := dataset.New([]string{"a", "b"}, [][]any{{1, "x"}})
	frag := Fragment{Name: "e.append[0]", Data: dataset.New([]string{"b", "a"}, [][]any{{"y", 2}, {"x", 1}})}

	out, err := Merge(base, []Fragment{frag}, model.AppendAll)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out.Columns)
	assert.Equal(t, [][]any{{1, "x"}, {2, "y"}, {1, "x"}}, out.Rows)

	out, err = Merge(base, []Fragment{frag}, model.AppendDistinct)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{1, "x"}, {2, "y"}}, out.Rows)
}

func TestMergeNamesMismatchedColumn(t *testing.T) {
	base := dataset.New([]string{"a", "b"}, nil)
	frag := Fragment{Name: "e.append[0]", Data: dataset.New([]string{"a", "b", "c"}, nil)}

	_, err := Merge(base, []Fragment{frag}, "")
	var mismatch *ColumnMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "c", mismatch.Column)
	assert.Equal(t, "e.append[0]", mismatch.Fragment)

	frag.Data = dataset.New([]string{"a"}, nil)
	_, err = Merge(base, []Fragment{frag}, "")
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "b", mismatch.Column)
	assert.Contains(t, mismatch.Reason, "missing in fragment")
}

func TestMergeChecksKinds(t *testing.T) {
	base := dataset.New([]string{"v"}, [][]any{{1}})

	out, err := Merge(base, []Fragment{{Name: "f", Data: dataset.New([]string{"v"}, [][]any{{2.5}, {nil}})}}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, out.Len())

	_, err = Merge(base, []Fragment{{Name: "f", Data: dataset.New([]string{"v"}, [][]any{{"text"}})}}, "")
	assert.ErrorContains(t, err, "incompatible types: int vs string")
}

func TestMergeRejectsUnknownMode(t *testing.T) {
	_, err := Merge(dataset.New([]string{"a"}, nil), nil, "union")
	assert.ErrorContains(t, err, `unknown append mode "union"`)
}
