package relevance

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tier1File = `# Directe treffers
klimaatadaptatie
Deltaprogramma
klimaatstresstest
klimaatbestendig
`
	tier2File = `# Thema's
[Water]
wateroverlast
overstroming
waterberging
riool
neerslag

[Landbouw_Natuur]
bodemdaling
veenweide
landbouw

[Wonen_Werken_Infra]
funderingsschade
woningbouw
`
	contextFile = `klimaatverandering
risico
aanpassing
toekomst
extreme
`
)

func newTestFilter(t *testing.T) *Filter {
	t.Helper()
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}
	f, err := Load(write("tier1.txt", tier1File), write("tier2.txt", tier2File), write("context.txt", contextFile))
	require.NoError(t, err)
	return f
}

func TestCheck(t *testing.T) {
	f := newTestFilter(t)

	tests := []struct {
		name        string
		title       string
		description string
		relevant    bool
		tier        int
	}{
		{
			name:        "tier 1 klimaatadaptatie",
			title:       "Nieuwe klimaatadaptatie strategie voor Nederlandse steden",
			description: "Het kabinet presenteert een nieuw plan voor klimaatbestendig bouwen.",
			relevant:    true,
			tier:        1,
		},
		{
			name:        "tier 1 deltaprogramma",
			title:       "Deltaprogramma 2026: Waterveiligheid in een veranderend klimaat",
			description: "Jaarlijkse update over de voortgang van het deltaprogramma.",
			relevant:    true,
			tier:        1,
		},
		{
			name:        "tier 1 stresstest",
			title:       "Klimaatstresstest wijst op risico's hittestress binnenstad",
			description: "Gemeente voert stresstest uit en vindt knelpunten.",
			relevant:    true,
			tier:        1,
		},
		{
			name:        "tier 2 with context",
			title:       "Extreme neerslag veroorzaakt wateroverlast in Limburg",
			description: "Risico op overstromingen neemt toe door klimaatverandering.",
			relevant:    true,
			tier:        2,
		},
		{
			name:        "tier 2 substring keyword",
			title:       "Aanpassing rioolcapaciteit nodig voor toekomst",
			description: "Gemeente investeert in waterberging voor extreme buien.",
			relevant:    true,
			tier:        2,
		},
		{
			name:     "tier 2 multi theme",
			title:    "Bodemdaling en funderingsschade in veenweidegebied",
			relevant: true,
			tier:     2,
		},
		{
			name:        "single theme without context",
			title:       "Nieuwe woningbouw in gemeente Almere",
			description: "Er worden 500 nieuwe woningen gebouwd.",
		},
		{
			name:        "agriculture without context",
			title:       "Landbouwsubsidies voor boeren verhoogd",
			description: "Minister kondigt extra steun aan voor agrarische sector.",
		},
		{
			name:        "water nuisance without context",
			title:       "Wateroverlast in kelder door lekkende leiding",
			description: "Particulier heeft last van wateroverlast door defecte kraan.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.Check(tt.title, tt.description)
			assert.Equal(t, tt.relevant, res.Relevant, res.String())
			assert.Equal(t, tt.tier, res.Tier)
			assert.Equal(t, tt.relevant, f.Relevant(tt.title, tt.description))
		})
	}
}

func TestCheck_ResultDetails(t *testing.T) {
	f := newTestFilter(t)

	res := f.Check("Extreme neerslag", "wateroverlast door klimaatverandering")
	assert.Equal(t, []string{"Water"}, res.Themes)
	assert.Equal(t, []string{"wateroverlast", "neerslag"}, res.Keywords)
	assert.Equal(t, []string{"klimaatverandering", "extreme"}, res.Context)
	assert.Equal(t, "tier 2 Water: wateroverlast, neerslag + context: klimaatverandering", res.String())

	res = f.Check("Bodemdaling en funderingsschade", "")
	assert.Equal(t, []string{"Landbouw_Natuur", "Wonen_Werken_Infra"}, res.Themes)
	assert.Empty(t, res.Context)
	assert.Contains(t, res.String(), "multi-theme")

	res = f.Check("KLIMAATADAPTATIE", "")
	assert.Equal(t, "tier 1 direct hit: klimaatadaptatie", res.String())

	assert.Equal(t, "not relevant (no keyword matches)", f.Check("Sport", "").String())
}

func TestParseThemes(t *testing.T) {
	themes, err := ParseThemes(strings.NewReader("orphan\n[A]\nx\n\n# c\n[ B ]\nY\nz\n"))
	require.NoError(t, err)
	assert.Equal(t, []Theme{
		{Name: "A", Keywords: []string{"x"}},
		{Name: "B", Keywords: []string{"y", "z"}},
	}, themes)
}

func TestParseList(t *testing.T) {
	list, err := ParseList(strings.NewReader("# header\n[Ignored]\n  Hitte  \n\ndroogte\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"hitte", "droogte"}, list)
}

func TestLoad(t *testing.T) {
	f := newTestFilter(t)
	t1, t2, ctx := f.Size()
	assert.Equal(t, 4, t1)
	assert.Equal(t, 10, t2)
	assert.Equal(t, 5, ctx)

	empty, err := Load("", "", "")
	require.NoError(t, err)
	assert.False(t, empty.Relevant("klimaatadaptatie", ""))

	_, err = Load(filepath.Join(t.TempDir(), "missing.txt"), "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relevance: open")
}
