package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/clothfold/clothsim/sim"
	"github.com/clothfold/clothsim/sim/cloth"
	"github.com/clothfold/clothsim/sim/trace"
)

var (
	// CLI flags for the run
	configPath      string // Config file (physics_world + scene)
	scenePath       string // Optional standalone scene file, replaces the config's scene
	logLevel        string // Log verbosity level
	ticks           int    // Fixed ticks per episode
	episodes        int    // Episodes, separated by ResetToInitialState
	backend         string // Override physics_world.backend
	integrationType string // Override physics_world.integration_type
	substeps        int    // Override physics_world.delta_time_divisor
	fold            bool   // Fold the cloth at the start of every episode
	realtime        bool   // Pace ticks to wall clock, scaled by time_scale

	// CLI flags for trace output
	traceLevel  string // none or ticks
	traceOut    string // Trace file path; empty keeps the trace in memory only
	traceFormat string // json or msgpack
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "clothsim",
	Short: "Spring-mass cloth simulator with sequential and parallel backends",
}

// runCmd runs the simulation using the config file and CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the cloth simulation",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		fc := resolveConfig(cmd)
		physics := &fc.PhysicsWorld
		if err := physics.Validate(); err != nil {
			logrus.Fatalf("Invalid physics config: %v", err)
		}
		if ticks < 1 || episodes < 1 {
			logrus.Fatalf("--ticks and --episodes must be >= 1, got %d and %d", ticks, episodes)
		}
		if !trace.IsValidTraceLevel(traceLevel) {
			logrus.Fatalf("Invalid --trace-level %q (valid: none, ticks)", traceLevel)
		}
		if !IsValidTraceFormat(traceFormat) {
			logrus.Fatalf("Invalid --trace-format %q (valid: %s, %s)", traceFormat, TraceFormatJSON, TraceFormatMsgpack)
		}

		scene, err := BuildScene(fc.Scene, physics)
		if err != nil {
			logrus.Fatalf("Invalid scene: %v", err)
		}
		st := trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevel(traceLevel)})

		s, err := cloth.New(physics,
			cloth.WithSphereColliders(scene.SphereSources()...),
			cloth.WithCuboidColliders(scene.CuboidSources()...),
			cloth.WithTrace(st),
		)
		if err != nil {
			logrus.Fatalf("Failed to create simulation: %v", err)
		}
		if err := s.Start(scene.Topology); err != nil {
			logrus.Fatalf("Failed to start simulation: %v", err)
		}
		defer s.Destroy()

		logrus.Infof("Starting cloth simulation: %dx%d cloth, %d spheres, %d cuboids, %d episodes x %d ticks, dt=%v",
			fc.Scene.Cloth.Rows, fc.Scene.Cloth.Cols, len(scene.Spheres), len(scene.Cuboids), episodes, ticks, physics.FixedDeltaTime)
		startTime := time.Now()

		var reference []mgl64.Vec3
		for ep := 0; ep < episodes; ep++ {
			final := runEpisode(s, scene, physics, ep)
			switch {
			case ep == 0:
				reference = final
			case slices.Equal(reference, final):
				logrus.Infof("episode %d reproduced episode 0 exactly", ep)
			default:
				logrus.Warnf("episode %d diverged from episode 0", ep)
			}
			if ep+1 < episodes {
				if err := s.ResetToInitialState(); err != nil {
					logrus.Fatalf("Reset failed: %v", err)
				}
				scene.MoveColliders(0)
			}
		}

		if st.Enabled() {
			printSummary(trace.Summarize(st))
		}
		if traceOut != "" {
			if err := exportTrace(traceOut, st, traceFormat); err != nil {
				logrus.Fatalf("Trace export failed: %v", err)
			}
			logrus.Infof("Trace written to %s (%s)", traceOut, traceFormat)
		}
		logrus.Infof("Simulation complete in %v (backend=%s).", time.Since(startTime), s.Backend())
	},
}

// runEpisode advances one episode and returns a copy of the final bones.
// An unstable tick ends the episode early.
func runEpisode(s *cloth.Simulation, scene *Scene, physics *sim.Config, ep int) []mgl64.Vec3 {
	if fold {
		if err := s.MakeFold(); err != nil {
			logrus.Fatalf("Fold failed: %v", err)
		}
	}
	dt := physics.FixedDeltaTime
	for k := 1; k <= ticks; k++ {
		tickStart := time.Now()
		scene.MoveColliders(float64(k) * dt)
		err := s.FixedUpdate(dt)
		if errors.Is(err, sim.ErrNumericInstability) {
			logrus.Warnf("episode %d ended early at tick %d: %v", ep, k, err)
			break
		}
		if err != nil {
			logrus.Fatalf("Tick failed: %v", err)
		}
		if realtime && physics.TimeScale > 0 {
			budget := time.Duration(dt / physics.TimeScale * float64(time.Second))
			time.Sleep(budget - time.Since(tickStart))
		}
	}
	return slices.Clone(s.Bones())
}

// resolveConfig loads the config file, then applies the scene file and any
// flag the user set explicitly.
func resolveConfig(cmd *cobra.Command) *FileConfig {
	fc, err := LoadConfig(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if scenePath != "" {
		if fc.Scene, err = LoadScene(scenePath); err != nil {
			logrus.Fatalf("Failed to load scene: %v", err)
		}
	}
	// Flags override the file only when set, so file values are not
	// clobbered by flag defaults.
	if cmd.Flags().Changed("backend") {
		fc.PhysicsWorld.Backend = backend
	}
	if cmd.Flags().Changed("integration") {
		fc.PhysicsWorld.IntegrationType = sim.IntegrationType(integrationType)
	}
	if cmd.Flags().Changed("substeps") {
		fc.PhysicsWorld.DeltaTimeDivisor = substeps
	}
	return fc
}

func printSummary(summary *trace.TraceSummary) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		logrus.Errorf("Failed to encode summary: %v", err)
		return
	}
	fmt.Println("=== Trace Summary ===")
	fmt.Println(string(data))
}

// configCmd prints the fully resolved configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved physics and scene configuration as YAML",
	Run: func(cmd *cobra.Command, args []string) {
		fc := resolveConfig(cmd)
		if err := fc.PhysicsWorld.Validate(); err != nil {
			logrus.Fatalf("Invalid physics config: %v", err)
		}
		out, err := yaml.Marshal(fc)
		if err != nil {
			logrus.Fatalf("Failed to encode config: %v", err)
		}
		fmt.Print(string(out))
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	for _, c := range []*cobra.Command{runCmd, configCmd} {
		c.Flags().StringVar(&configPath, "config", "defaults.yaml", "Path to the physics and scene config")
		c.Flags().StringVar(&scenePath, "scene", "", "Path to a scene file that replaces the config's scene section")
		c.Flags().StringVar(&backend, "backend", sim.BackendSequential, "Spring processor backend (sequential, parallel)")
		c.Flags().StringVar(&integrationType, "integration", string(sim.IntegrationSemiImplicitEuler), "Integration scheme (explicit-euler, semi-implicit-euler, verlet)")
		c.Flags().IntVar(&substeps, "substeps", 1, "Substeps per fixed tick (delta_time_divisor)")
	}

	runCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().IntVar(&ticks, "ticks", 250, "Fixed ticks per episode")
	runCmd.Flags().IntVar(&episodes, "episodes", 1, "Episodes; the cloth is reset between them")
	runCmd.Flags().BoolVar(&fold, "fold", false, "Fold the cloth in half at the start of every episode")
	runCmd.Flags().BoolVar(&realtime, "realtime", false, "Pace ticks to wall clock time scaled by time_scale")

	runCmd.Flags().StringVar(&traceLevel, "trace-level", string(trace.TraceLevelTicks), "Trace verbosity (none, ticks)")
	runCmd.Flags().StringVar(&traceOut, "trace-out", "", "Write the tick trace to this file")
	runCmd.Flags().StringVar(&traceFormat, "trace-format", TraceFormatJSON, "Trace file format (json, msgpack)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
}
