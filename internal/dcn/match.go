package dcn

import (
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/serveroute/serveroute/internal/address"
	"github.com/serveroute/serveroute/internal/model"
)

// MatchConfig tunes the resolver tiers.
type MatchConfig struct {
	StreetExactConfidence float64
	StreetMinLength       int
	FuzzyFloor            float64
}

// DefaultMatchConfig returns the production tiers: 0.92 for street-only
// equality on streets longer than 5 characters, fuzzy floor 0.6.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		StreetExactConfidence: 0.92,
		StreetMinLength:       5,
		FuzzyFloor:            0.6,
	}
}

// Match is the best candidate for an uploaded row.
type Match struct {
	Address    *model.Address
	Confidence float64
	Type       model.MatchType
}

// Resolver finds the best address for an uploaded DCN row using a three-tier
// cascade:
//  1. Exact normalized key (confidence 1.0, short-circuits)
//  2. Street segment equality on long streets (fixed confidence)
//  3. Levenshtein similarity of street segments above the floor, capped at
//     the street-exact confidence when the streets are equal
type Resolver struct {
	norm *address.Normalizer
	cfg  MatchConfig
}

// NewResolver creates a resolver. A nil normalizer uses the default tables.
func NewResolver(norm *address.Normalizer, cfg MatchConfig) *Resolver {
	if norm == nil {
		norm = address.Default()
	}
	return &Resolver{norm: norm, cfg: cfg}
}

// Key builds the normalized key of an uploaded row. Uploads carry no state
// or zip.
func (r *Resolver) Key(rawAddress, rawCity string) string {
	return r.norm.Key(rawAddress, rawCity, "", "")
}

// FindMatch scans candidates in order and returns the best match, or nil.
// Candidates already carrying a DCN are never returned. A higher score only
// replaces the running best when strictly greater, so the first of two equal
// scores wins.
func (r *Resolver) FindMatch(candidates []model.Address, rawAddress, rawCity string) *Match {
	key := r.Key(rawAddress, rawCity)
	in := address.Split(key)
	if in.Street == "" {
		return nil
	}

	var best *Match
	for i := range candidates {
		c := &candidates[i]
		if c.HasDCN {
			continue
		}

		ckey := r.candidateKey(c)
		cand := address.Split(ckey)

		if ckey == key {
			zap.L().Debug("dcn: exact match",
				zap.String("address_id", c.ID),
				zap.String("key", key),
			)
			return &Match{Address: c, Confidence: 1.0, Type: model.MatchTypeExact}
		}

		if in.Street == cand.Street && utf8.RuneCountInString(in.Street) > r.cfg.StreetMinLength {
			if best == nil || r.cfg.StreetExactConfidence > best.Confidence {
				best = &Match{Address: c, Confidence: r.cfg.StreetExactConfidence, Type: model.MatchTypeStreetExact}
			}
			continue
		}

		score := address.Similarity(in.Street, cand.Street)
		if score > r.cfg.StreetExactConfidence && in.Street == cand.Street {
			// Short streets skipped the street-exact tier; equality alone
			// must not outrank it.
			score = r.cfg.StreetExactConfidence
		}
		if score > r.cfg.FuzzyFloor && (best == nil || score > best.Confidence) {
			best = &Match{Address: c, Confidence: score, Type: model.MatchTypeFuzzy}
		}
	}
	return best
}

func (r *Resolver) candidateKey(c *model.Address) string {
	if c.NormalizedKey != "" {
		return c.NormalizedKey
	}
	return r.norm.Key(c.Street, c.City, c.State, c.Zip)
}
