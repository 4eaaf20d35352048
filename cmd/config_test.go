package cmd

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/code-lab-org/sipg-sub003/sim"
	"github.com/code-lab-org/sipg-sub003/sim/federation"
)

func TestMain(m *testing.M) {
	// Set DEBUG_TESTS=1 to see full logs: DEBUG_TESTS=1 go test ./cmd/... -v
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

const minimalConfig = `
simulation:
  start_year: 2000
  end_year: 2002
societies:
  name: Nation
  kind: country
  children:
    - name: Alpha
      kind: city
      social: { population: 100, water_per_capita: 1 }
      sectors:
        water:
          prices: { domestic: 2, import: 5 }
          elements:
            - { name: Alpha.well, max_production: 500, production_cost: 1 }
`

func TestLoadConfig_SampleScenario_BuildsSocietyTree(t *testing.T) {
	// GIVEN the built-in sample scenario
	cfg, err := loadConfig("")
	require.NoError(t, err)

	// WHEN the society tree is built
	root, err := buildSocieties(cfg.Societies)
	require.NoError(t, err)

	// THEN every city exists with its elements attached to the origin city
	var names []string
	for _, c := range root.Cities() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"Alpha", "Beta", "Gamma"}, names)
	assert.NotNil(t, root.Find("Alpha").Local(sim.Water).Element("Alpha-Beta.pipe"))
	assert.NotNil(t, root.Find("Alpha").Local(sim.Water).Reservoir())
	assert.NotNil(t, root.Find("Gamma").Local(sim.Petroleum).Element("Gamma.field"))
	assert.Equal(t, sim.Prices{Domestic: 70, Import: 60, Export: 20}, root.Find("Beta").Local(sim.Petroleum).Prices())
	assert.Equal(t, sim.Region, root.Find("South").Kind())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestParseConfig_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"misspelled field", `
simulation: { start_year: 2000, end_year: 2001, iteration: 2 }
societies: { name: N, kind: country }`},
		{"negative population", `
simulation: { start_year: 2000, end_year: 2001 }
societies:
  name: N
  kind: country
  children: [{ name: A, kind: city, social: { population: -1 } }]`},
		{"unknown sector", `
simulation: { start_year: 2000, end_year: 2001 }
societies:
  name: N
  kind: country
  children: [{ name: A, kind: city, sectors: { mining: {} } }]`},
		{"malformed duration", `
federation: { wait_timeout: soon }
simulation: { start_year: 2000, end_year: 2001 }
societies: { name: N, kind: country }`},
		{"missing societies", `
simulation: { start_year: 2000, end_year: 2001 }`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseConfig([]byte(tc.yaml))
			assert.ErrorContains(t, err, "invalid config")
		})
	}
}

func TestParseConfig_DecodesDurationsAndOptionalSwitches(t *testing.T) {
	// GIVEN a file that disables the optimizer and sets timeouts
	data := `
federation: { name: grid, units_per_year: 600, wait_timeout: 5s, owned: [Alpha] }
simulation:
  start_year: 2000
  end_year: 2004
  iterations: 4
  optimize: false
  optimizer_timeout: 250ms
  price_deltas: { import: 1.5 }
societies: { name: N, kind: country }
`
	cfg, err := parseConfig([]byte(data))
	require.NoError(t, err)

	// WHEN converted to component configs
	simCfg := cfg.SimulationConfig()
	fedCfg := cfg.FederationConfig()

	// THEN explicit values win and the rest keep their defaults
	assert.False(t, simCfg.Optimize)
	assert.True(t, simCfg.Joint)
	assert.True(t, simCfg.Optimizer.WarmStart)
	assert.Equal(t, 4, simCfg.Iterations)
	assert.Equal(t, 250*time.Millisecond, simCfg.Optimizer.Timeout)
	assert.Equal(t, 1.5, simCfg.Optimizer.Deltas.Import)
	assert.Equal(t, "grid", fedCfg.Federation)
	assert.Equal(t, federation.DefaultFederateType, fedCfg.FederateType)
	assert.Equal(t, int64(600), fedCfg.UnitsPerYear)
	assert.Equal(t, 5*time.Second, fedCfg.WaitTimeout)
	assert.Equal(t, []string{"Alpha"}, cfg.Federation.Owned)
}

func TestSimulationConfig_DefaultsToOneIteration(t *testing.T) {
	cfg, err := parseConfig([]byte(minimalConfig))
	require.NoError(t, err)

	simCfg := cfg.SimulationConfig()

	assert.Equal(t, 1, simCfg.Iterations)
	assert.True(t, simCfg.Optimize)
	assert.Equal(t, federation.DefaultUnitsPerYear, int(cfg.FederationConfig().UnitsPerYear))
}

func TestBuildSocieties_Rejects(t *testing.T) {
	city := func(name string) SocietySpec { return SocietySpec{Name: name, Kind: "city"} }
	tests := []struct {
		name string
		spec SocietySpec
		want string
	}{
		{"root is not a country", SocietySpec{Name: "R", Kind: "region", Children: []SocietySpec{city("A")}}, "must be a country"},
		{"city with children", SocietySpec{Name: "N", Kind: "country", Children: []SocietySpec{
			{Name: "A", Kind: "city", Children: []SocietySpec{city("B")}},
		}}, "cannot have children"},
		{"sectors on a region", SocietySpec{Name: "N", Kind: "country", Children: []SocietySpec{
			{Name: "R", Kind: "region", Sectors: map[string]SectorSpec{"water": {}}},
		}}, "only cities"},
		{"duplicate names", SocietySpec{Name: "N", Kind: "country", Children: []SocietySpec{city("A"), city("A")}}, `"A" already used`},
		{"social sector", SocietySpec{Name: "N", Kind: "country", Children: []SocietySpec{
			{Name: "A", Kind: "city", Sectors: map[string]SectorSpec{"social": {}}},
		}}, "not a resource sector"},
		{"unknown origin", SocietySpec{Name: "N", Kind: "country", Children: []SocietySpec{
			{Name: "A", Kind: "city", Sectors: map[string]SectorSpec{"water": {
				Elements: []ElementSpec{{Name: "well", Origin: "Z", MaxProduction: 1}},
			}}},
		}}, `"Z"`},
		{"negative price", SocietySpec{Name: "N", Kind: "country", Children: []SocietySpec{
			{Name: "A", Kind: "city", Sectors: map[string]SectorSpec{"water": {Prices: &PriceSpec{Domestic: -1}}}},
		}}, "DomesticPrice"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := buildSocieties(tc.spec)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestBuildSocieties_ReservoirDefaultsToFull(t *testing.T) {
	// GIVEN a reservoir without an explicit capacity
	spec := SocietySpec{Name: "N", Kind: "country", Children: []SocietySpec{{
		Name: "A", Kind: "city",
		Sectors: map[string]SectorSpec{"petroleum": {Reservoir: &ReservoirSpec{Volume: 300}}},
	}}}

	// WHEN built
	root, err := buildSocieties(spec)
	require.NoError(t, err)

	// THEN it starts at capacity
	attrs := root.Find("A").Local(sim.Petroleum).Attributes()
	assert.Equal(t, 300.0, attrs["PetroleumReservoirVolume"])
}

func TestWriteConfig_OutputValidatesAgain(t *testing.T) {
	// GIVEN the sample scenario marshalled the way `scenario validate` prints it
	cfg, err := loadConfig("")
	require.NoError(t, err)
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	// WHEN parsed again
	again, err := parseConfig(data)

	// THEN it is accepted and unchanged
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestBuildSocieties_MissingImportPrice_BlocksImports(t *testing.T) {
	// GIVEN two cities with price blocks, only one naming an import price
	data := `
simulation: { start_year: 2000, end_year: 2001 }
societies:
  name: N
  kind: country
  children:
    - { name: A, kind: city, sectors: { water: { prices: { domestic: 2, import: 0 } } } }
    - { name: B, kind: city, sectors: { water: { prices: { domestic: 2, export: 1 } } } }
`
	cfg, err := parseConfig([]byte(data))
	require.NoError(t, err)

	// WHEN the tree is built
	root, err := buildSocieties(cfg.Societies)
	require.NoError(t, err)

	// THEN an explicit zero stays free while a missing key blocks imports
	a := root.Find("A").Local(sim.Water).Prices()
	b := root.Find("B").Local(sim.Water).Prices()
	assert.Zero(t, a.Import)
	assert.True(t, a.ImportAvailable())
	assert.True(t, math.IsInf(b.Import, 1))
	assert.False(t, b.ImportAvailable())
}
