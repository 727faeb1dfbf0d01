package dcn

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplate(t *testing.T) {
	data, err := Template()
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "DCN,Address,City,Defendant First Name,Defendant Last Name,Court Name,Case Number", lines[0])
}

func TestTemplate_ParsesBack(t *testing.T) {
	data, err := Template()
	require.NoError(t, err)

	rows, err := ParseCSV(string(data))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, m := range rows {
		row := RowFromMap(2, m)
		assert.Nil(t, row.Validate())
		assert.NotEmpty(t, row.City)
		assert.NotEmpty(t, row.CaseNumber)
	}
	assert.Equal(t, "456 Oak Avenue, Apt 2", rows[1][FieldAddress])
}
