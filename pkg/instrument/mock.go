package instrument

import (
	"github.com/itohio/gopstat/pkg/config"
	"github.com/itohio/gopstat/pkg/sim"
	"github.com/itohio/gopstat/pkg/swv"
)

// NewMock creates an in-process instrument driving a simulated potentiostat.
// With sim.real_time the sweep takes as long as on hardware; otherwise a fake
// clock makes it instant.
func NewMock(cfg *config.Config) (*Local, *sim.Potentiostat, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	ec := cfg.EngineConfig()
	pot := sim.New(ec, &cfg.Sim, cfg.Analog.AdcFullScale)

	var clock swv.Clock
	if cfg.Sim.RealTime {
		clock = swv.NewSystemClock()
	} else {
		fake := sim.NewClock(0)
		pot.UseClock(fake)
		clock = fake
	}

	eng, err := swv.New(ec, pot.Hardware(clock))
	if err != nil {
		return nil, nil, err
	}
	return NewLocal(eng, nil), pot, nil
}
