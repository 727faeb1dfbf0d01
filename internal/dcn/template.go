package dcn

import (
	"bytes"
	"encoding/csv"

	"github.com/rotisserie/eris"
)

// TemplateFilename is the suggested download name of the upload template.
const TemplateFilename = "dcn_upload_template.csv"

// TemplateHeader is the exact header row of the upload template.
var TemplateHeader = []string{
	"DCN", "Address", "City", "Defendant First Name", "Defendant Last Name", "Court Name", "Case Number",
}

var templateExamples = [][]string{
	{"DCN-2024-001", "123 Main Street", "Detroit", "John", "Doe", "36th District Court", "24-123456"},
	{"DCN-2024-002", "456 Oak Avenue, Apt 2", "Dearborn", "Jane", "Smith", "19th District Court", "24-654321"},
}

// Template renders the upload template: the header row and two example rows.
func Template() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(TemplateHeader); err != nil {
		return nil, eris.Wrap(err, "dcn: write template header")
	}
	if err := w.WriteAll(templateExamples); err != nil {
		return nil, eris.Wrap(err, "dcn: write template rows")
	}
	return buf.Bytes(), nil
}
