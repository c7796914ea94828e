// register.go wires the parallel backend into sim's backend registry.
package parallel

import "github.com/clothfold/clothsim/sim"

func init() {
	sim.RegisterBackend(sim.BackendParallel, func(cfg *sim.Config, topo *sim.Topology) (sim.SpringProcessor, error) {
		p, err := NewProcessor(cfg, topo)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}
