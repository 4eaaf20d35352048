package sim

// System is the capability shared by every per-sector role: local systems,
// social systems, system-of-systems aggregators and remote mirrors.
//
// Tick reads only committed state and stages the next values; Tock commits
// them without reading any other entity.
type System interface {
	Sector() Sector
	SocietyName() string
	Tick(t Time) error
	Tock()
	Attributes() Attributes
}

// RechargeModel scales reservoir recharge for a society at a given time.
// A nil model means a constant scale of 1.
type RechargeModel interface {
	RechargeScale(society string, t Time) float64
}
