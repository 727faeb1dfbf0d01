package dcn

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/serveroute/serveroute/internal/model"
)

// Row messages stored on the batch.
const (
	MsgDCNRequired     = "DCN is required"
	MsgAddressRequired = "Address is required"
	MsgDuplicateDCN    = "Duplicate DCN"
)

// Row is one upload row after header mapping.
type Row struct {
	Number             int               `json:"-"`
	DCN                string            `json:"dcn" validate:"required"`
	Address            string            `json:"address" validate:"required"`
	City               string            `json:"city"`
	DefendantFirstName string            `json:"defendant_first_name"`
	DefendantLastName  string            `json:"defendant_last_name"`
	CourtName          string            `json:"court_name"`
	CaseNumber         string            `json:"case_number"`
	Extra              map[string]string `json:"-"`
}

var (
	validate = newValidator()

	requiredMessages = map[string]string{
		FieldDCN:     MsgDCNRequired,
		FieldAddress: MsgAddressRequired,
	}
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RowFromMap builds a Row from a parsed map. number is the 1-based record
// number in the file, counting the header as 1.
func RowFromMap(number int, m map[string]string) Row {
	r := Row{Number: number}
	for k, v := range m {
		v = strings.TrimSpace(v)
		switch k {
		case FieldDCN:
			r.DCN = v
		case FieldAddress:
			r.Address = v
		case FieldCity:
			r.City = v
		case FieldDefendantFirstName:
			r.DefendantFirstName = v
		case FieldDefendantLastName:
			r.DefendantLastName = v
		case FieldCourtName:
			r.CourtName = v
		case FieldCaseNumber:
			r.CaseNumber = v
		default:
			if v == "" {
				continue
			}
			if r.Extra == nil {
				r.Extra = make(map[string]string)
			}
			r.Extra[k] = v
		}
	}
	return r
}

// Validate returns the first failing rule, checked in field order.
func (r Row) Validate() *model.ValidationError {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &model.ValidationError{Row: r.Number, Message: err.Error()}
	}
	fe := verrs[0]
	msg, ok := requiredMessages[fe.Field()]
	if !ok || fe.Tag() != "required" {
		msg = fe.Error()
	}
	return &model.ValidationError{Row: r.Number, Field: fe.Field(), Message: msg}
}

// Metadata returns the optional case columns.
func (r Row) Metadata() model.DCNMetadata {
	return model.DCNMetadata{
		DefendantFirstName: r.DefendantFirstName,
		DefendantLastName:  r.DefendantLastName,
		CourtName:          r.CourtName,
		CaseNumber:         r.CaseNumber,
		Extra:              r.Extra,
	}
}
