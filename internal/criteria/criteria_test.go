package criteria

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptionalSubdiv(t *testing.T) {
	got, err := Parse("village,survey,subdiv\nPanaji,123,A\nMargao,456,\n")
	require.NoError(t, err)
	assert.Equal(t, []Criterion{
		{Village: "Panaji", Survey: "123", Subdiv: "A"},
		{Village: "Margao", Survey: "456"},
	}, got)
}

func TestParseHeaderCaseAndOrder(t *testing.T) {
	got, err := Parse(" Survey , VILLAGE \n 12 , Panaji \n")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Criterion{Village: "Panaji", Survey: "12"}, got[0])
}

func TestParseSkipsShortAndEmptyRows(t *testing.T) {
	got, err := Parse("village,survey,subdiv\nPanaji,1\n,2,B\nVasco,3,C\n")
	require.NoError(t, err)
	assert.Equal(t, []Criterion{{Village: "Vasco", Survey: "3", Subdiv: "C"}}, got)
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse("village,survey,subdiv")
	assert.ErrorIs(t, err, ErrTooFewLines)
	_, err = Parse("   \n  ")
	assert.ErrorIs(t, err, ErrTooFewLines)
	_, err = Parse("town,survey\nPanaji,1\n")
	assert.ErrorIs(t, err, ErrMissingVillageColumn)
}

func TestParseKeepsRowsAroundOverlongVillage(t *testing.T) {
	long := strings.Repeat("x", 201)
	got, err := Parse("village,survey\nPanaji,1\nMargao,2\n" + long + ",3\n")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, Criterion{Village: "Panaji", Survey: "1"}, got[0])
	assert.Equal(t, Criterion{Village: "Margao", Survey: "2"}, got[1])
	assert.NoError(t, got[0].Validate())
	assert.Error(t, got[2].Validate())
}

func TestTemplateParses(t *testing.T) {
	got, err := Parse(Template())
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, "Panaji/123/A", got[0].String())
	assert.Equal(t, "cadastral_search_template.csv", TemplateFileName)
}
