package address

import (
	"bytes"
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/serveroute/serveroute/internal/geo"
	"github.com/serveroute/serveroute/internal/model"
	"github.com/serveroute/serveroute/internal/tabular"
)

var rosterColumns = map[string]string{
	"street":         "street",
	"address":        "street",
	"street_address": "street",
	"city":           "city",
	"state":          "state",
	"zip":            "zip",
	"zipcode":        "zip",
	"zip_code":       "zip",
	"postal_code":    "zip",
	"latitude":       "latitude",
	"lat":            "latitude",
	"longitude":      "longitude",
	"lng":            "longitude",
	"lon":            "longitude",
	"serve_type":     "serve_type",
	"type":           "serve_type",
}

// Roster is a parsed route file.
type Roster struct {
	Addresses []model.Address
	Errors    []model.RowError
}

// ParseRoster reads a CSV or XLSX route file into pending addresses for one
// company route. Rows without a street, with an unknown serve type, or with
// out-of-range coordinates are reported and skipped. Row numbers count the
// header as row 1.
func (n *Normalizer) ParseRoster(ctx context.Context, filename string, content []byte, companyID, routeID string) (*Roster, error) {
	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		records, err = tabular.ReadXLSX(content)
	default:
		records, err = tabular.ReadCSV(ctx, bytes.NewReader(content), tabular.CSVOptions{LazyQuotes: true})
	}
	if err != nil {
		return nil, &model.ParseError{Filename: filename, Err: eris.Wrap(err, "address: read roster")}
	}

	out := &Roster{Addresses: []model.Address{}, Errors: []model.RowError{}}
	if len(records) < 2 {
		return out, nil
	}

	cols := make([]string, len(records[0]))
	for i, h := range records[0] {
		cols[i] = rosterColumns[strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "_")]
	}

	seen := make(map[string]bool)
	for i, rec := range records[1:] {
		rowNum := i + 2
		vals := make(map[string]string, len(cols))
		for j, c := range cols {
			if c != "" && j < len(rec) && vals[c] == "" {
				vals[c] = strings.TrimSpace(rec[j])
			}
		}

		a, field, msg := n.rosterAddress(vals, companyID, routeID)
		if msg != "" {
			out.Errors = append(out.Errors, model.RowError{Row: rowNum, Field: field, Error: msg})
			continue
		}
		if seen[a.NormalizedKey] {
			continue
		}
		seen[a.NormalizedKey] = true
		out.Addresses = append(out.Addresses, a)
	}
	return out, nil
}

func (n *Normalizer) rosterAddress(vals map[string]string, companyID, routeID string) (model.Address, string, string) {
	a := model.Address{
		CompanyID: companyID,
		RouteID:   routeID,
		Street:    vals["street"],
		City:      vals["city"],
		State:     vals["state"],
		Zip:       vals["zip"],
		ServeType: model.ServeTypeServe,
		Status:    model.AddressPending,
	}
	if a.Street == "" {
		return a, "street", "street is required"
	}

	if st := strings.ToLower(vals["serve_type"]); st != "" {
		switch model.ServeType(st) {
		case model.ServeTypeServe, model.ServeTypeGarnishment, model.ServeTypePosting:
			a.ServeType = model.ServeType(st)
		default:
			return a, "serve_type", "unknown serve type " + vals["serve_type"]
		}
	}

	if vals["latitude"] != "" || vals["longitude"] != "" {
		lat, errLat := strconv.ParseFloat(vals["latitude"], 64)
		lng, errLng := strconv.ParseFloat(vals["longitude"], 64)
		if errLat != nil || errLng != nil || !geo.Valid(geo.Point(lat, lng)) {
			return a, "latitude", "coordinates must be a valid latitude and longitude pair"
		}
		a.Latitude, a.Longitude = &lat, &lng
	}

	a.NormalizedKey = n.Key(a.Street, a.City, a.State, a.Zip)
	return a, "", ""
}
