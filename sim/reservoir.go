package sim

import "math"

// Reservoir is a stock such as a petroleum field or an aquifer.
// Invariant: 0 <= Volume <= MaxVolume after every Tock.
type Reservoir struct {
	name         string
	volume       float64
	maxVolume    float64
	rechargeRate float64 // per year

	withdrawals           float64 // annual rate of the last committed step
	cumulativeWithdrawals float64

	nextVolume      float64
	nextRate        float64
	nextWithdrawals float64 // volume withdrawn during the staged step
	staged          bool
}

// NewReservoir validates the initial stock.
func NewReservoir(name string, volume, maxVolume, rechargeRate float64) (*Reservoir, error) {
	switch {
	case maxVolume < 0 || math.IsNaN(maxVolume):
		return nil, invalid(name, "MaxVolume", maxVolume, "must be non-negative")
	case volume < 0 || volume > maxVolume || math.IsNaN(volume):
		return nil, invalid(name, "Volume", volume, "must be in [0, MaxVolume]")
	case rechargeRate < 0 || math.IsNaN(rechargeRate):
		return nil, invalid(name, "RechargeRate", rechargeRate, "must be non-negative")
	}
	return &Reservoir{name: name, volume: volume, maxVolume: maxVolume, rechargeRate: rechargeRate}, nil
}

func (r *Reservoir) Volume() float64                { return r.volume }
func (r *Reservoir) MaxVolume() float64             { return r.maxVolume }
func (r *Reservoir) RechargeRate() float64          { return r.rechargeRate }
func (r *Reservoir) Withdrawals() float64           { return r.withdrawals }
func (r *Reservoir) CumulativeWithdrawals() float64 { return r.cumulativeWithdrawals }

// Lifetime is the number of years the stock lasts at the current withdrawal rate.
func (r *Reservoir) Lifetime() float64 {
	return Lifetime(r.volume, r.withdrawals)
}

// Lifetime divides a reservoir volume by its annual withdrawals.
func Lifetime(volume, withdrawals float64) float64 {
	if withdrawals <= 0 {
		return math.Inf(1)
	}
	return volume / withdrawals
}

// Tick stages the next volume given the annual withdrawal rate and a recharge
// scale factor. Recharge beyond the remaining headroom spills. A volume driven
// below zero is returned as an *InvariantError and nothing is staged.
func (r *Reservoir) Tick(t Time, withdrawals, rechargeScale float64) error {
	dt := t.Dt()
	if withdrawals < 0 || math.IsNaN(withdrawals) {
		return &InvariantError{Entity: r.name, Field: "Withdrawals", Value: withdrawals, Time: t, Reason: "withdrawals must be non-negative"}
	}
	recharge := math.Min(math.Max(r.rechargeRate*rechargeScale, 0)*dt, r.maxVolume-r.volume)
	next := r.volume + recharge - withdrawals*dt
	if next < 0 {
		return &InvariantError{Entity: r.name, Field: "Volume", Value: next, Time: t, Reason: "reservoir drawn below zero"}
	}
	if next > r.maxVolume {
		return &InvariantError{Entity: r.name, Field: "Volume", Value: next, Time: t, Reason: "reservoir above capacity"}
	}
	r.nextVolume = next
	r.nextRate = withdrawals
	r.nextWithdrawals = withdrawals * dt
	r.staged = true
	return nil
}

// Tock commits the staged volume.
func (r *Reservoir) Tock() {
	if !r.staged {
		return
	}
	r.volume = r.nextVolume
	r.withdrawals = r.nextRate
	r.cumulativeWithdrawals += r.nextWithdrawals
	r.staged = false
}

// ReservoirState is the committed state of a reservoir in a checkpoint.
type ReservoirState struct {
	Volume                float64
	Withdrawals           float64
	CumulativeWithdrawals float64
}

func (r *Reservoir) state() ReservoirState {
	return ReservoirState{Volume: r.volume, Withdrawals: r.withdrawals, CumulativeWithdrawals: r.cumulativeWithdrawals}
}

func (r *Reservoir) apply(s ReservoirState) error {
	if s.Volume < 0 || s.Volume > r.maxVolume {
		return invalid(r.name, "Volume", s.Volume, "must be in [0, MaxVolume]")
	}
	r.volume, r.withdrawals, r.cumulativeWithdrawals = s.Volume, s.Withdrawals, s.CumulativeWithdrawals
	r.staged = false
	return nil
}
