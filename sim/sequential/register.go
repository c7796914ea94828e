// register.go wires the sequential backend into sim's backend registry.
// The init() runs when any package imports sim/sequential, which keeps sim
// free of an import on its own implementations.
package sequential

import "github.com/clothfold/clothsim/sim"

func init() {
	sim.RegisterBackend(sim.BackendSequential, func(cfg *sim.Config, topo *sim.Topology) (sim.SpringProcessor, error) {
		p, err := NewProcessor(cfg, topo)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}
