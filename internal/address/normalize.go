// Package address derives comparable keys from raw street addresses and
// scores street similarity.
package address

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// KeyDelimiter separates the street, city, state and zip segments of a key.
// The street is always the first segment.
const KeyDelimiter = "|"

// suffixAbbreviations collapses long and variant spellings to the USPS short
// form. Every token in every segment is passed through this table, so a key
// built from "North Main Street" and one built from "N Main St" agree.
var suffixAbbreviations = map[string]string{
	// Street suffixes
	"street": "st", "str": "st", "strt": "st",
	"avenue": "ave", "av": "ave", "aven": "ave", "avenu": "ave", "avn": "ave", "avnue": "ave",
	"road": "rd",
	"drive": "dr", "driv": "dr", "drv": "dr",
	"lane": "ln",
	"court": "ct", "crt": "ct",
	"boulevard": "blvd", "boul": "blvd", "boulv": "blvd", "blv": "blvd",
	"place": "pl",
	"terrace": "ter", "terr": "ter",
	"circle": "cir", "circ": "cir", "crcl": "cir",
	"highway": "hwy", "hiway": "hwy", "hiwy": "hwy", "highwy": "hwy",
	"parkway": "pkwy", "parkwy": "pkwy", "pkway": "pkwy", "pky": "pkwy",
	"square": "sq", "sqr": "sq",
	"trail": "trl", "trails": "trl",
	"expressway": "expy", "express": "expy", "expw": "expy",
	"freeway": "fwy", "freewy": "fwy",
	"crossing": "xing", "crssng": "xing",
	"point": "pt",
	"heights": "hts",
	"center": "ctr", "centre": "ctr",
	"mount": "mt",
	"saint": "st",
	"apartment": "apt",
	"suite": "ste",
	"building": "bldg",
	"floor": "fl",
	"unit": "unit",
	// Directionals
	"north": "n", "south": "s", "east": "e", "west": "w",
	"northeast": "ne", "northwest": "nw", "southeast": "se", "southwest": "sw",
}

// stateAbbreviations maps lowercase full state names to USPS codes.
var stateAbbreviations = map[string]string{
	"alabama": "al", "alaska": "ak", "arizona": "az", "arkansas": "ar",
	"california": "ca", "colorado": "co", "connecticut": "ct", "delaware": "de",
	"florida": "fl", "georgia": "ga", "hawaii": "hi", "idaho": "id",
	"illinois": "il", "indiana": "in", "iowa": "ia", "kansas": "ks",
	"kentucky": "ky", "louisiana": "la", "maine": "me", "maryland": "md",
	"massachusetts": "ma", "michigan": "mi", "minnesota": "mn", "mississippi": "ms",
	"missouri": "mo", "montana": "mt", "nebraska": "ne", "nevada": "nv",
	"new hampshire": "nh", "new jersey": "nj", "new mexico": "nm", "new york": "ny",
	"north carolina": "nc", "north dakota": "nd", "ohio": "oh", "oklahoma": "ok",
	"oregon": "or", "pennsylvania": "pa", "rhode island": "ri", "south carolina": "sc",
	"south dakota": "sd", "tennessee": "tn", "texas": "tx", "utah": "ut",
	"vermont": "vt", "virginia": "va", "washington": "wa", "west virginia": "wv",
	"wisconsin": "wi", "wyoming": "wy", "district of columbia": "dc",
}

// Normalizer builds normalized keys using an abbreviation table.
type Normalizer struct {
	abbreviations map[string]string
}

// NewNormalizer returns a Normalizer using the built-in table extended (and
// overridden) by extra. Keys and values of extra are lowercased.
func NewNormalizer(extra map[string]string) *Normalizer {
	table := make(map[string]string, len(suffixAbbreviations)+len(extra))
	for k, v := range suffixAbbreviations {
		table[k] = v
	}
	for k, v := range extra {
		table[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}
	return &Normalizer{abbreviations: table}
}

var defaultNormalizer = NewNormalizer(nil)

// Default returns the package-level Normalizer with the built-in table.
func Default() *Normalizer {
	return defaultNormalizer
}

// NormalizedKey builds a key with the default Normalizer.
func NormalizedKey(street, city, state, zip string) string {
	return defaultNormalizer.Key(street, city, state, zip)
}

// Key returns "street|city|state|zip" with each segment normalized. Empty
// inputs produce empty segments; the delimiter count is always three.
func (n *Normalizer) Key(street, city, state, zip string) string {
	return strings.Join([]string{
		n.Street(street),
		n.City(city),
		State(state),
		Zip(zip),
	}, KeyDelimiter)
}

// Street normalizes a street line.
func (n *Normalizer) Street(s string) string {
	return n.tokens(s)
}

// City normalizes a city name.
func (n *Normalizer) City(s string) string {
	return n.tokens(s)
}

// State returns the lowercase two-letter code for a state name or code.
func State(s string) string {
	folded := strings.Join(strings.Fields(clean(s)), " ")
	if abbr, ok := stateAbbreviations[folded]; ok {
		return abbr
	}
	return folded
}

// Zip returns the first five digits of a zip code.
func Zip(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			if b.Len() == 5 {
				break
			}
		}
	}
	return b.String()
}

func (n *Normalizer) tokens(s string) string {
	fields := strings.Fields(clean(s))
	for i, f := range fields {
		if abbr, ok := n.abbreviations[f]; ok {
			fields[i] = abbr
		}
	}
	return strings.Join(fields, " ")
}

// clean lowercases, strips diacritics and turns every non-alphanumeric rune
// into a space.
func clean(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, folded)
}

// Segments is a destructured normalized key.
type Segments struct {
	Street string
	City   string
	State  string
	Zip    string
}

// Split destructures a key produced by Key. Missing trailing segments are
// returned empty.
func Split(key string) Segments {
	parts := strings.SplitN(key, KeyDelimiter, 4)
	var s Segments
	if len(parts) > 0 {
		s.Street = parts[0]
	}
	if len(parts) > 1 {
		s.City = parts[1]
	}
	if len(parts) > 2 {
		s.State = parts[2]
	}
	if len(parts) > 3 {
		s.Zip = parts[3]
	}
	return s
}

// StreetSegment returns the text before the first delimiter.
func StreetSegment(key string) string {
	if i := strings.Index(key, KeyDelimiter); i >= 0 {
		return key[:i]
	}
	return key
}
