package dcn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serveroute/serveroute/internal/model"
)

func candidate(id, key string) model.Address {
	return model.Address{ID: id, CompanyID: "co-1", NormalizedKey: key}
}

func TestFindMatch_Exact(t *testing.T) {
	r := NewResolver(nil, DefaultMatchConfig())
	candidates := []model.Address{
		candidate("a1", "123 main st|detroit||"),
	}

	m := r.FindMatch(candidates, "123 Main Street", "Detroit")
	require.NotNil(t, m)
	assert.Equal(t, "a1", m.Address.ID)
	assert.Equal(t, 1.0, m.Confidence)
	assert.Equal(t, model.MatchTypeExact, m.Type)
}

func TestFindMatch_StoredStateIsNotExact(t *testing.T) {
	r := NewResolver(nil, DefaultMatchConfig())
	candidates := []model.Address{
		candidate("a1", "123 main st|detroit|mi|48201"),
	}

	m := r.FindMatch(candidates, "123 Main Street", "Detroit")
	require.NotNil(t, m)
	assert.Equal(t, "a1", m.Address.ID)
	assert.Equal(t, 0.92, m.Confidence)
	assert.Equal(t, model.MatchTypeStreetExact, m.Type)
}

func TestFindMatch_ExactShortCircuits(t *testing.T) {
	r := NewResolver(nil, DefaultMatchConfig())
	candidates := []model.Address{
		candidate("fuzzy", "123 mian st|detroit||"),
		candidate("exact", "123 main st|detroit||"),
		candidate("also-exact", "123 main st|detroit||"),
	}

	m := r.FindMatch(candidates, "123 Main St", "Detroit")
	require.NotNil(t, m)
	assert.Equal(t, "exact", m.Address.ID)
	assert.Equal(t, model.MatchTypeExact, m.Type)
}

func TestFindMatch_SkipsLinkedCandidates(t *testing.T) {
	r := NewResolver(nil, DefaultMatchConfig())
	linked := candidate("a1", "123 main st|detroit||")
	linked.HasDCN = true

	assert.Nil(t, r.FindMatch([]model.Address{linked}, "123 Main St", "Detroit"))

	other := candidate("a2", "123 main st|detroit||")
	m := r.FindMatch([]model.Address{linked, other}, "123 Main St", "Detroit")
	require.NotNil(t, m)
	assert.Equal(t, "a2", m.Address.ID)
}

func TestFindMatch_StreetExact(t *testing.T) {
	r := NewResolver(nil, DefaultMatchConfig())
	candidates := []model.Address{
		candidate("a1", "1234 main st|dearborn|mi|48124"),
	}

	m := r.FindMatch(candidates, "1234 Main St", "Detroit")
	require.NotNil(t, m)
	assert.Equal(t, model.MatchTypeStreetExact, m.Type)
	assert.Equal(t, 0.92, m.Confidence)
}

func TestFindMatch_StreetExactTieKeepsFirst(t *testing.T) {
	r := NewResolver(nil, DefaultMatchConfig())
	candidates := []model.Address{
		candidate("first", "1234 main st|dearborn||"),
		candidate("second", "1234 main st|flint||"),
	}

	m := r.FindMatch(candidates, "1234 Main St", "Detroit")
	require.NotNil(t, m)
	assert.Equal(t, "first", m.Address.ID)
}

func TestFindMatch_ShortStreetFallsToFuzzy(t *testing.T) {
	r := NewResolver(nil, DefaultMatchConfig())
	candidates := []model.Address{candidate("a1", "1 a|flint||")}

	m := r.FindMatch(candidates, "1 A", "Detroit")
	require.NotNil(t, m)
	assert.Equal(t, model.MatchTypeFuzzy, m.Type)
	assert.Equal(t, 0.92, m.Confidence)
	assert.Equal(t, model.MatchPendingReview, DefaultProcessConfig().Classify(m))
}

func TestFindMatch_ShortStreetCapKeepsStreetExactTie(t *testing.T) {
	r := NewResolver(nil, DefaultMatchConfig())
	candidates := []model.Address{
		candidate("short", "9 ab|flint||"),
		candidate("other", "9 ab|saginaw||"),
	}

	m := r.FindMatch(candidates, "9 AB", "Detroit")
	require.NotNil(t, m)
	assert.Equal(t, "short", m.Address.ID)
	assert.Equal(t, 0.92, m.Confidence)
}

func TestFindMatch_FuzzyFloor(t *testing.T) {
	const input = "abcdefghijklmnopqrst"

	tests := []struct {
		name  string
		key   string
		floor float64
		want  float64 // 0 means no match
	}{
		{"0.65 above default floor", "abcdefghijklmxxxxxxx|||", 0.6, 0.65},
		{"0.55 below default floor", "abcdefghijkxxxxxxxxx|||", 0.6, 0},
		{"0.60 equals floor", "abcdefghijklxxxxxxxx|||", 0.6, 0},
		{"0.55 above lowered floor", "abcdefghijkxxxxxxxxx|||", 0.5, 0.55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultMatchConfig()
			cfg.FuzzyFloor = tt.floor
			r := NewResolver(nil, cfg)

			m := r.FindMatch([]model.Address{candidate("a1", tt.key)}, input, "")
			if tt.want == 0 {
				assert.Nil(t, m)
				return
			}
			require.NotNil(t, m)
			assert.Equal(t, model.MatchTypeFuzzy, m.Type)
			assert.InDelta(t, tt.want, m.Confidence, 1e-9)
		})
	}
}

func TestFindMatch_BestFuzzyWins(t *testing.T) {
	r := NewResolver(nil, DefaultMatchConfig())
	candidates := []model.Address{
		candidate("far", "abcdefghijklmxxxxxxx|||"),
		candidate("near", "abcdefghijklmnopqrsx|||"),
	}

	m := r.FindMatch(candidates, "abcdefghijklmnopqrst", "")
	require.NotNil(t, m)
	assert.Equal(t, "near", m.Address.ID)
	assert.InDelta(t, 0.95, m.Confidence, 1e-9)
}

func TestFindMatch_StoredKeyMissing(t *testing.T) {
	r := NewResolver(nil, DefaultMatchConfig())
	c := model.Address{ID: "a1", Street: "77 Lake Shore Drive", City: "Grosse Pointe"}

	m := r.FindMatch([]model.Address{c}, "77 lake shore dr", "grosse pointe")
	require.NotNil(t, m)
	assert.Equal(t, model.MatchTypeExact, m.Type)
}

func TestFindMatch_EmptyInput(t *testing.T) {
	r := NewResolver(nil, DefaultMatchConfig())
	assert.Nil(t, r.FindMatch([]model.Address{candidate("a1", "|||")}, "  ", "Detroit"))
	assert.Nil(t, r.FindMatch(nil, "1 Elm St", ""))
}
