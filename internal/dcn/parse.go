package dcn

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/serveroute/serveroute/internal/model"
	"github.com/serveroute/serveroute/internal/tabular"
)

// Parser turns an uploaded file into header-keyed row maps.
type Parser struct {
	headers *HeaderMapper
}

// NewParser creates a Parser. A nil mapper uses the built-in aliases.
func NewParser(headers *HeaderMapper) *Parser {
	if headers == nil {
		headers = NewHeaderMapper(nil)
	}
	return &Parser{headers: headers}
}

// ParseCSV parses text with the built-in header aliases.
func ParseCSV(text string) ([]map[string]string, error) {
	return NewParser(nil).ParseCSV(context.Background(), []byte(text))
}

// ParseCSV reads CSV content. The first logical record is the header; fewer
// than two records yields an empty result.
func (p *Parser) ParseCSV(ctx context.Context, content []byte) ([]map[string]string, error) {
	records, err := tabular.ReadCSV(ctx, bytes.NewReader(content), tabular.CSVOptions{LazyQuotes: true})
	if err != nil {
		return nil, eris.Wrap(err, "dcn: parse csv")
	}
	return p.rows(records), nil
}

// ParseXLSX reads the first sheet of a workbook.
func (p *Parser) ParseXLSX(content []byte) ([]map[string]string, error) {
	records, err := tabular.ReadXLSX(content)
	if err != nil {
		return nil, eris.Wrap(err, "dcn: parse xlsx")
	}
	return p.rows(records), nil
}

// ParseFile dispatches on the filename extension. Any failure is returned as
// a *model.ParseError.
func (p *Parser) ParseFile(ctx context.Context, filename string, content []byte) ([]map[string]string, error) {
	var (
		rows []map[string]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		rows, err = p.ParseXLSX(content)
	case ".csv", ".txt", "":
		rows, err = p.ParseCSV(ctx, content)
	default:
		err = eris.Errorf("dcn: unsupported file type %q", filepath.Ext(filename))
	}
	if err != nil {
		return nil, &model.ParseError{Filename: filename, Err: err}
	}
	return rows, nil
}

func (p *Parser) rows(records [][]string) []map[string]string {
	if len(records) < 2 {
		return []map[string]string{}
	}

	keys := p.headers.MapAll(records[0])
	out := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(keys))
		for i, key := range keys {
			if key == "" {
				continue
			}
			var val string
			if i < len(rec) {
				val = strings.TrimSpace(rec[i])
			}
			// A repeated column only fills a value the earlier one left blank.
			if prev, ok := row[key]; ok && prev != "" {
				continue
			}
			row[key] = val
		}
		out = append(out, row)
	}
	return out
}
