package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	loc, ok := reg.Lookup("png")
	require.True(t, ok)
	assert.Equal(t, KindWorldPop, loc.Kind)
	assert.Equal(t,
		"https://data.worldpop.org/GIS/Population/Global_2015_2030/R2024B/2025/PNG/v1/100m/constrained/png_pop_2025_CN_100m_R2024B_v1.tif",
		loc.URL)
	assert.Empty(t, loc.Member)

	loc, ok = reg.Lookup("WSM")
	require.True(t, ok)
	assert.Equal(t, KindDirect, loc.Kind)
	assert.False(t, loc.IsZIP())
	assert.Empty(t, loc.Member)

	loc, ok = reg.Lookup("KIR")
	require.True(t, ok)
	assert.True(t, loc.IsZIP())
	assert.Equal(t, "KIR_t_pop_2025.tif", loc.Member)

	loc, ok = reg.Lookup("FJI")
	require.True(t, ok)
	assert.Equal(t, "1_FJI_t_pop_ahs_2023.tif", loc.Member)

	_, ok = reg.Lookup("AUS")
	assert.False(t, ok)
	_, ok = reg.Lookup("")
	assert.False(t, ok)
}

func TestRegistry_WorldPopTakesPrecedence(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	// TON is listed under both sources.
	require.Contains(t, reg.Direct, "TON")
	loc, ok := reg.Lookup("TON")
	require.True(t, ok)
	assert.Equal(t, KindWorldPop, loc.Kind)
	assert.Contains(t, loc.URL, "/TON/v1/100m/constrained/ton_pop_2025")
}

func TestRegistry_Locations(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	locs := reg.Locations()
	require.Len(t, locs, 22)
	for i := 1; i < len(locs); i++ {
		assert.Less(t, locs[i-1].Code, locs[i].Code)
	}
}

func TestLoadRegistry_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
registry:
  worldpop:
    base_url: https://example.org/wp/
    suffix: _x.tif
    codes: [abc]
  direct:
    xyz:
      url: https://example.org/xyz.ZIP
`), 0o644))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)

	loc, ok := reg.Lookup("ABC")
	require.True(t, ok)
	assert.Equal(t, "https://example.org/wp/ABC/v1/100m/constrained/abc_x.tif", loc.URL)

	loc, ok = reg.Lookup("xyz")
	require.True(t, ok)
	assert.True(t, loc.IsZIP())
	assert.Equal(t, "XYZ_t_pop_2025.tif", loc.Member)
}

func TestLoadRegistry_Errors(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("registry: [unclosed"), 0o644))
	_, err = LoadRegistry(bad)
	assert.Error(t, err)

	noBase := filepath.Join(t.TempDir(), "nobase.yaml")
	require.NoError(t, os.WriteFile(noBase, []byte("registry:\n  worldpop:\n    codes: [ABC]\n"), 0o644))
	_, err = LoadRegistry(noBase)
	assert.Error(t, err)
}

func TestLoadRegistry_EmptyPathIsDefault(t *testing.T) {
	reg, err := LoadRegistry("")
	require.NoError(t, err)
	_, ok := reg.Lookup("FJI")
	assert.True(t, ok)
}
