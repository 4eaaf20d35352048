package cmd

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/code-lab-org/sipg-sub003/sim"
	"github.com/code-lab-org/sipg-sub003/sim/federation"
)

//go:embed schema.json
var schemaJSON []byte

//go:embed scenario.yaml
var sampleScenario []byte

// FileConfig is the full run configuration file.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type FileConfig struct {
	Federation FederationSection `yaml:"federation,omitempty"`
	Simulation SimulationSection `yaml:"simulation"`
	Societies  SocietySpec       `yaml:"societies"`
}

type FederationSection struct {
	Name          string        `yaml:"name,omitempty"`
	FederateType  string        `yaml:"federate_type,omitempty"`
	FederateName  string        `yaml:"federate_name,omitempty"`
	UnitsPerYear  int64         `yaml:"units_per_year,omitempty"`
	WaitTimeout   time.Duration `yaml:"wait_timeout,omitempty"`
	CheckpointDir string        `yaml:"checkpoint_dir,omitempty"`
	Owned         []string      `yaml:"owned,omitempty"` // cities simulated by this process; empty means all
}

type SimulationSection struct {
	StartYear           int            `yaml:"start_year"`
	EndYear             int            `yaml:"end_year"`
	Iterations          int            `yaml:"iterations,omitempty"`
	Joint               *bool          `yaml:"joint,omitempty"`
	Optimize            *bool          `yaml:"optimize,omitempty"`
	ParallelTock        bool           `yaml:"parallel_tock,omitempty"`
	OptimizerTimeout    time.Duration  `yaml:"optimizer_timeout,omitempty"`
	MaxVariables        int            `yaml:"max_variables,omitempty"`
	WarmStart           *bool          `yaml:"warm_start,omitempty"`
	Seed                int64          `yaml:"seed,omitempty"`
	RechargeVariability float64        `yaml:"recharge_variability,omitempty"`
	PriceDeltas         PriceDeltaSpec `yaml:"price_deltas,omitempty"`
}

// PriceDeltaSpec shifts optimizer prices for sensitivity runs.
type PriceDeltaSpec struct {
	Production  float64 `yaml:"production,omitempty"`
	Import      float64 `yaml:"import,omitempty"`
	Export      float64 `yaml:"export,omitempty"`
	Electricity float64 `yaml:"electricity,omitempty"`
}

// SocietySpec is one node of the society tree.
type SocietySpec struct {
	Name     string                `yaml:"name"`
	Kind     string                `yaml:"kind"` // country, region or city
	Social   *SocialSection        `yaml:"social,omitempty"`
	Sectors  map[string]SectorSpec `yaml:"sectors,omitempty"`
	Children []SocietySpec         `yaml:"children,omitempty"`
}

type SocialSection struct {
	Population           float64 `yaml:"population,omitempty"`
	GrowthRate           float64 `yaml:"growth_rate,omitempty"`
	FoodPerCapita        float64 `yaml:"food_per_capita,omitempty"`
	WaterPerCapita       float64 `yaml:"water_per_capita,omitempty"`
	ElectricityPerCapita float64 `yaml:"electricity_per_capita,omitempty"`
	PetroleumPerCapita   float64 `yaml:"petroleum_per_capita,omitempty"`
}

// SectorSpec holds one city's resource sector. Elements originate in the
// city unless they name another origin.
type SectorSpec struct {
	Prices    *PriceSpec     `yaml:"prices,omitempty"`
	Reservoir *ReservoirSpec `yaml:"reservoir,omitempty"`
	Elements  []ElementSpec  `yaml:"elements,omitempty"`
}

// PriceSpec holds a sector's trade prices. A missing import price means
// the city cannot import.
type PriceSpec struct {
	Domestic      float64  `yaml:"domestic,omitempty"`
	Import        *float64 `yaml:"import,omitempty"`
	Export        float64  `yaml:"export,omitempty"`
	ImportBlocked bool     `yaml:"import_blocked,omitempty"`
	MaxExport     float64  `yaml:"max_export,omitempty"`
}

type ReservoirSpec struct {
	Volume       float64 `yaml:"volume,omitempty"`
	MaxVolume    float64 `yaml:"max_volume,omitempty"`
	RechargeRate float64 `yaml:"recharge_rate,omitempty"`
}

type ElementSpec struct {
	Name             string `yaml:"name"`
	Origin           string `yaml:"origin,omitempty"`
	Destination      string `yaml:"destination,omitempty"`
	CommissionYear   int    `yaml:"commission_year,omitempty"`
	DecommissionYear int    `yaml:"decommission_year,omitempty"`

	MaxProduction float64 `yaml:"max_production,omitempty"`
	MaxThroughput float64 `yaml:"max_throughput,omitempty"`
	Efficiency    float64 `yaml:"efficiency,omitempty"`

	ProductionCost      float64 `yaml:"production_cost,omitempty"`
	DistributionCost    float64 `yaml:"distribution_cost,omitempty"`
	CapitalCost         float64 `yaml:"capital_cost,omitempty"`
	FixedOperationsCost float64 `yaml:"fixed_operations_cost,omitempty"`

	ElectricityIntensity             float64 `yaml:"electricity_intensity,omitempty"`
	DistributionElectricityIntensity float64 `yaml:"distribution_electricity_intensity,omitempty"`
	WaterIntensity                   float64 `yaml:"water_intensity,omitempty"`
	PetroleumIntensity               float64 `yaml:"petroleum_intensity,omitempty"`
	ReservoirIntensity               float64 `yaml:"reservoir_intensity,omitempty"`

	InitialProduction float64 `yaml:"initial_production,omitempty"`
	InitialThroughput float64 `yaml:"initial_throughput,omitempty"`
}

// loadConfig reads path, or the built-in sample scenario when path is empty.
func loadConfig(path string) (*FileConfig, error) {
	data := sampleScenario
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return parseConfig(data)
}

// parseConfig validates data against the embedded schema, then decodes it
// with strict field checking so typos are errors.
func parseConfig(data []byte) (*FileConfig, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}
	var cfg FileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}
	return &cfg, nil
}

func validateSchema(data []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("load config schema: %w", err)
	}
	schema, err := compiler.Compile("config.schema.json")
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	// The validator expects JSON-decoded values, so the YAML document is
	// converted through JSON first.
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config YAML: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config is not representable as JSON: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SimulationConfig merges the file section over the simulator defaults.
func (c *FileConfig) SimulationConfig() sim.SimulationConfig {
	s := c.Simulation
	cfg := sim.NewSimulationConfig(s.StartYear, s.EndYear, s.Iterations)
	if cfg.Iterations == 0 {
		cfg.Iterations = 1
	}
	if s.Joint != nil {
		cfg.Joint = *s.Joint
	}
	if s.Optimize != nil {
		cfg.Optimize = *s.Optimize
	}
	if s.WarmStart != nil {
		cfg.Optimizer.WarmStart = *s.WarmStart
	}
	if s.OptimizerTimeout > 0 {
		cfg.Optimizer.Timeout = s.OptimizerTimeout
	}
	cfg.ParallelTock = s.ParallelTock
	cfg.Optimizer.MaxVariables = s.MaxVariables
	cfg.Optimizer.Deltas = sim.PriceDeltas{
		Production:  s.PriceDeltas.Production,
		Import:      s.PriceDeltas.Import,
		Export:      s.PriceDeltas.Export,
		Electricity: s.PriceDeltas.Electricity,
	}
	return cfg
}

// FederationConfig merges the file section over the federate defaults.
func (c *FileConfig) FederationConfig() federation.Config {
	f := c.Federation
	cfg := federation.NewConfig()
	if f.Name != "" {
		cfg.Federation = f.Name
	}
	if f.FederateType != "" {
		cfg.FederateType = f.FederateType
	}
	if f.UnitsPerYear > 0 {
		cfg.UnitsPerYear = f.UnitsPerYear
	}
	if f.WaitTimeout > 0 {
		cfg.WaitTimeout = f.WaitTimeout
	}
	cfg.FederateName = f.FederateName
	cfg.CheckpointDir = f.CheckpointDir
	return cfg
}

// buildSocieties constructs the society tree, then adds elements, prices and
// reservoirs once every city exists so distribution elements can reference
// cities declared later.
func buildSocieties(spec SocietySpec) (*sim.Society, error) {
	root, err := buildSociety(spec)
	if err != nil {
		return nil, err
	}
	if root.Kind() != sim.Country {
		return nil, fmt.Errorf("root society %q must be a country", root.Name())
	}
	if err := populate(root, spec); err != nil {
		return nil, err
	}
	return root, nil
}

func buildSociety(spec SocietySpec) (*sim.Society, error) {
	var s *sim.Society
	switch strings.ToLower(spec.Kind) {
	case "country":
		s = sim.NewCountry(spec.Name)
	case "region":
		s = sim.NewRegion(spec.Name)
	case "city":
		if len(spec.Children) > 0 {
			return nil, fmt.Errorf("city %q cannot have children", spec.Name)
		}
		var social sim.SocialSpec
		if spec.Social != nil {
			social = sim.SocialSpec{
				Population:           spec.Social.Population,
				GrowthRate:           spec.Social.GrowthRate,
				FoodPerCapita:        spec.Social.FoodPerCapita,
				WaterPerCapita:       spec.Social.WaterPerCapita,
				ElectricityPerCapita: spec.Social.ElectricityPerCapita,
				PetroleumPerCapita:   spec.Social.PetroleumPerCapita,
			}
		}
		return sim.NewCity(spec.Name, social)
	default:
		return nil, fmt.Errorf("society %q: unknown kind %q", spec.Name, spec.Kind)
	}
	if len(spec.Sectors) > 0 || spec.Social != nil {
		return nil, fmt.Errorf("%s %q: only cities carry sectors or social data", s.Kind(), spec.Name)
	}
	for _, cs := range spec.Children {
		c, err := buildSociety(cs)
		if err != nil {
			return nil, err
		}
		if err := s.AddChild(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func populate(root *sim.Society, spec SocietySpec) error {
	for _, cs := range spec.Children {
		if err := populate(root, cs); err != nil {
			return err
		}
	}
	names := make([]string, 0, len(spec.Sectors))
	for name := range spec.Sectors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sec := spec.Sectors[name]
		sector, err := sim.ParseSector(name)
		if err != nil {
			return fmt.Errorf("city %q: %w", spec.Name, err)
		}
		if !sector.IsResource() {
			return fmt.Errorf("city %q: %s is not a resource sector", spec.Name, sector)
		}
		local := root.Find(spec.Name).Local(sector)
		if sec.Prices != nil {
			p := sim.Prices{
				Domestic:      sec.Prices.Domestic,
				Import:        math.Inf(1),
				Export:        sec.Prices.Export,
				ImportBlocked: sec.Prices.ImportBlocked,
				MaxExport:     sec.Prices.MaxExport,
			}
			if sec.Prices.Import != nil {
				p.Import = *sec.Prices.Import
			}
			if err := local.SetPrices(p); err != nil {
				return err
			}
		}
		if r := sec.Reservoir; r != nil {
			maxVolume := r.MaxVolume
			if maxVolume == 0 {
				maxVolume = math.Max(r.Volume, 0)
			}
			res, err := sim.NewReservoir(spec.Name+"."+sector.String()+"Reservoir", r.Volume, maxVolume, r.RechargeRate)
			if err != nil {
				return err
			}
			if err := local.SetReservoir(res); err != nil {
				return err
			}
		}
		for _, es := range sec.Elements {
			origin := es.Origin
			if origin == "" {
				origin = spec.Name
			}
			e, err := sim.NewElement(sim.ElementSpec{
				Name:                             es.Name,
				Origin:                           origin,
				Destination:                      es.Destination,
				CommissionYear:                   es.CommissionYear,
				DecommissionYear:                 es.DecommissionYear,
				MaxProduction:                    es.MaxProduction,
				MaxThroughput:                    es.MaxThroughput,
				Efficiency:                       es.Efficiency,
				ProductionCost:                   es.ProductionCost,
				DistributionCost:                 es.DistributionCost,
				CapitalCost:                      es.CapitalCost,
				FixedOperationsCost:              es.FixedOperationsCost,
				ElectricityIntensity:             es.ElectricityIntensity,
				DistributionElectricityIntensity: es.DistributionElectricityIntensity,
				WaterIntensity:                   es.WaterIntensity,
				PetroleumIntensity:               es.PetroleumIntensity,
				ReservoirIntensity:               es.ReservoirIntensity,
				InitialProduction:                es.InitialProduction,
				InitialThroughput:                es.InitialThroughput,
			})
			if err != nil {
				return err
			}
			if err := root.AddElement(sector, e); err != nil {
				return fmt.Errorf("element %q: %w", es.Name, err)
			}
		}
	}
	return nil
}
