package dcn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowFromMap(t *testing.T) {
	r := RowFromMap(3, map[string]string{
		FieldDCN:          " D-7 ",
		FieldAddress:      "5 Pine Ct",
		FieldCity:         "Troy",
		FieldCaseNumber:   "24-7",
		"Process Server":  "Bob",
		"Empty Extra Col": "  ",
	})

	assert.Equal(t, 3, r.Number)
	assert.Equal(t, "D-7", r.DCN)
	assert.Equal(t, "5 Pine Ct", r.Address)
	assert.Equal(t, map[string]string{"Process Server": "Bob"}, r.Extra)

	md := r.Metadata()
	assert.Equal(t, "24-7", md.CaseNumber)
	assert.Equal(t, "Bob", md.Extra["Process Server"])
}

func TestRowValidate(t *testing.T) {
	tests := []struct {
		name    string
		row     Row
		field   string
		message string
	}{
		{"valid", Row{Number: 2, DCN: "D-1", Address: "1 Elm St"}, "", ""},
		{"missing dcn", Row{Number: 2, Address: "1 Elm St"}, FieldDCN, MsgDCNRequired},
		{"missing address", Row{Number: 4, DCN: "D-1"}, FieldAddress, MsgAddressRequired},
		{"dcn reported first", Row{Number: 5}, FieldDCN, MsgDCNRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := tt.row.Validate()
			if tt.field == "" {
				assert.Nil(t, verr)
				return
			}
			require.NotNil(t, verr)
			assert.Equal(t, tt.row.Number, verr.Row)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, tt.message, verr.Message)
		})
	}
}
