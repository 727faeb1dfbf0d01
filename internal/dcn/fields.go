package dcn

import (
	"strings"
	"unicode"
)

// Canonical row fields.
const (
	FieldDCN                = "dcn"
	FieldAddress            = "address"
	FieldCity               = "city"
	FieldDefendantFirstName = "defendant_first_name"
	FieldDefendantLastName  = "defendant_last_name"
	FieldCourtName          = "court_name"
	FieldCaseNumber         = "case_number"
)

// defaultAliases maps header tokens (lowercase, alphanumerics only) to
// canonical fields.
var defaultAliases = map[string]string{
	"dcn":                   FieldDCN,
	"dcnnumber":             FieldDCN,
	"docnumber":             FieldDCN,
	"docno":                 FieldDCN,
	"documentnumber":        FieldDCN,
	"controlnumber":         FieldDCN,
	"documentcontrolnumber": FieldDCN,
	"doccontrolnumber":      FieldDCN,

	"address":          FieldAddress,
	"streetaddress":    FieldAddress,
	"street":           FieldAddress,
	"address1":         FieldAddress,
	"addressline1":     FieldAddress,
	"serviceaddress":   FieldAddress,
	"defendantaddress": FieldAddress,

	"city":        FieldCity,
	"town":        FieldCity,
	"servicecity": FieldCity,

	"defendantfirstname": FieldDefendantFirstName,
	"firstname":          FieldDefendantFirstName,
	"defendantfirst":     FieldDefendantFirstName,

	"defendantlastname": FieldDefendantLastName,
	"lastname":          FieldDefendantLastName,
	"defendantlast":     FieldDefendantLastName,
	"surname":           FieldDefendantLastName,

	"courtname": FieldCourtName,
	"court":     FieldCourtName,

	"casenumber":   FieldCaseNumber,
	"caseno":       FieldCaseNumber,
	"case":         FieldCaseNumber,
	"docket":       FieldCaseNumber,
	"docketnumber": FieldCaseNumber,
}

// HeaderMapper resolves raw header cells to canonical field names.
type HeaderMapper struct {
	aliases map[string]string
}

// NewHeaderMapper merges extra aliases over the built-in table. Extra keys
// are tokenized the same way headers are.
func NewHeaderMapper(extra map[string]string) *HeaderMapper {
	aliases := make(map[string]string, len(defaultAliases)+len(extra))
	for k, v := range defaultAliases {
		aliases[k] = v
	}
	for k, v := range extra {
		if tok := headerToken(k); tok != "" {
			aliases[tok] = strings.TrimSpace(v)
		}
	}
	return &HeaderMapper{aliases: aliases}
}

// Map returns the canonical field for header, or the trimmed header itself
// when no alias matches.
func (m *HeaderMapper) Map(header string) string {
	if field, ok := m.aliases[headerToken(header)]; ok {
		return field
	}
	return strings.TrimSpace(header)
}

// MapAll maps a header row.
func (m *HeaderMapper) MapAll(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = m.Map(h)
	}
	return out
}

func headerToken(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
