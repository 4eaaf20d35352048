package sim

import (
	"math"
	"sort"
	"strings"
)

// Attribute keys shared by every sector.
const (
	KeyNetCashFlow        = "NetCashFlow"
	KeyCapitalExpense     = "CapitalExpense"
	KeyCumulativeCashFlow = "CumulativeCashFlow"
	KeyPopulation         = "Population"
)

// Attributes is the published key -> scalar view of a system.
type Attributes map[string]float64

// Keys returns the attribute keys in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy.
func (a Attributes) Clone() Attributes {
	c := make(Attributes, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}

// IsPriceKey reports whether key holds a unit price, which aggregates as a mean.
func IsPriceKey(key string) bool {
	return strings.HasSuffix(key, "Price")
}

// IsIntegerKey reports whether key is transmitted as a 64-bit integer.
func IsIntegerKey(key string) bool {
	return key == KeyPopulation
}

var commonKeys = []string{KeyNetCashFlow, KeyCapitalExpense, KeyCumulativeCashFlow}

var sectorKeys = [NumSectors][]string{
	Agriculture: {
		"FoodProduction", "FoodConsumption", "FoodImport", "FoodExport",
		"WaterConsumption", "ElectricityConsumption",
		"FoodDomesticPrice", "FoodImportPrice", "FoodExportPrice",
	},
	Water: {
		"WaterProduction", "WaterConsumption", "WaterImport", "WaterExport",
		"ElectricityConsumption",
		"WaterDomesticPrice", "WaterImportPrice", "WaterExportPrice",
		"WaterReservoirVolume", "WaterReservoirWithdrawals",
	},
	Petroleum: {
		"PetroleumProduction", "PetroleumConsumption", "PetroleumImport", "PetroleumExport",
		"ElectricityConsumption",
		"PetroleumDomesticPrice", "PetroleumImportPrice", "PetroleumExportPrice",
		"PetroleumReservoirVolume", "PetroleumReservoirWithdrawals",
	},
	Electricity: {
		"ElectricityProduction", "ElectricityConsumption", "ElectricityImport", "ElectricityExport",
		"PetroleumConsumption", "WaterConsumption",
		"ElectricityDomesticPrice",
	},
	Social: {
		KeyPopulation, "FoodDemand", "WaterDemand", "ElectricityDemand", "PetroleumDemand",
	},
}

// Schema returns the numeric attribute keys published for a sector.
func Schema(s Sector) []string {
	keys := make([]string, 0, len(commonKeys)+len(sectorKeys[s]))
	keys = append(keys, commonKeys...)
	return append(keys, sectorKeys[s]...)
}

// WaterLifetime derives the aquifer lifetime in years from published water attributes.
func WaterLifetime(a Attributes) float64 {
	return Lifetime(a["WaterReservoirVolume"], a["WaterReservoirWithdrawals"])
}

// Snapshot is the typed attribute set exchanged between federates for one system.
type Snapshot struct {
	Class       string
	Name        string
	SocietyName string
	Time        int64 // logical time of the publishing federate
	Values      Attributes
}

// aggregate combines the attributes of nested systems of one sector.
// Quantities are summed; prices are averaged over the parts that publish them.
func aggregate(s Sector, parts []Attributes) Attributes {
	out := make(Attributes)
	priceCount := make(map[string]int)
	for _, key := range Schema(s) {
		out[key] = 0
	}
	for _, p := range parts {
		for k, v := range p {
			if math.IsNaN(v) {
				continue
			}
			out[k] += v
			if IsPriceKey(k) {
				priceCount[k]++
			}
		}
	}
	for k, n := range priceCount {
		out[k] /= float64(n)
	}
	return out
}
