package tabular

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csvsearch/internal/domain"
)

func TestRead_HeaderAndRows(t *testing.T) {
	input := "Part_No,Object_Text,Brand\nBP100,worn brake pad,Bosch\nAF200,\"air filter, cabin\",Mann\n"

	table, err := Read(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"Part_No", "Object_Text", "Brand"}, table.Header)
	require.Len(t, table.Rows, 2)

	assert.Equal(t, 1, table.Rows[0].Number)
	assert.Equal(t, 2, table.Rows[0].Line)
	assert.Equal(t, "worn brake pad", table.Rows[0].Cell(1))
	assert.Equal(t, 2, table.Rows[1].Number)
	assert.Equal(t, "air filter, cabin", table.Rows[1].Cell(1))
}

func TestRead_StripsBOMAndTrimsHeader(t *testing.T) {
	table, err := Read(strings.NewReader("\ufeffObject_Text , Part_No\nabc,1\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, table.Column("Object_Text"))
	assert.Equal(t, 1, table.Column("Part_No"))
	assert.Equal(t, -1, table.Column("Missing"))
}

func TestRead_RaggedRows(t *testing.T) {
	table, err := Read(strings.NewReader("a,b,c\n1\n1,2,3,4\n"))
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "", table.Rows[0].Cell(2))
	assert.Equal(t, "4", table.Rows[1].Cell(3))
	assert.Equal(t, "", table.Rows[1].Cell(-1))
}

func TestRead_HeaderOnly(t *testing.T) {
	table, err := Read(strings.NewReader("Object_Text\n"))
	require.NoError(t, err)
	assert.Empty(t, table.Rows)
}

func TestRead_Malformed(t *testing.T) {
	tests := map[string]string{
		"empty":          "",
		"unclosed quote": "Object_Text\n\"never closed\n",
		"bare quote":     "Object_Text\nab\"c\n",
	}

	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Read(strings.NewReader(input))
			assert.ErrorIs(t, err, domain.ErrMalformedFile)
		})
	}
}

func TestRead_MalformedReportsLine(t *testing.T) {
	_, err := Read(strings.NewReader("Object_Text\nok\nalso ok\nbro\"ken\n"))
	require.ErrorIs(t, err, domain.ErrMalformedFile)
	assert.Contains(t, err.Error(), "line 4")
}
