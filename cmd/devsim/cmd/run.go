package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/browser"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dsolab/devsim/datarecording"
	"github.com/dsolab/devsim/examples/queueing"
	"github.com/dsolab/devsim/experiment"
	"github.com/dsolab/devsim/monitoring"
	"github.com/dsolab/devsim/sim"
)

// experimentConfig is the YAML layout of an experiment definition file.
type experimentConfig struct {
	Name         string  `yaml:"name"`
	StartTime    float64 `yaml:"start_time"`
	WarmupPeriod float64 `yaml:"warmup_period"`
	RunLength    float64 `yaml:"run_length"`
	Replications int     `yaml:"replications"`
	Seed         int64   `yaml:"seed"`

	Model struct {
		ArrivalRate float64 `yaml:"arrival_rate"`
		ServiceRate float64 `yaml:"service_rate"`
	} `yaml:"model"`
}

var runFlags = struct {
	configFile      string
	dbFile          string
	monitorPort     int
	enableMonitor   bool
	openDashboard   bool
	continueOnError bool
	verbose         bool
}{}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation experiment from a configuration file",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runExperiment()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.configFile,
		"config", "c", "experiment.yaml",
		"experiment configuration file")
	runCmd.Flags().StringVar(&runFlags.dbFile,
		"db", "",
		"record notifications into the given SQLite file")
	runCmd.Flags().BoolVar(&runFlags.enableMonitor,
		"monitor", false,
		"start the monitoring HTTP server")
	runCmd.Flags().IntVar(&runFlags.monitorPort,
		"monitor-port", 0,
		"port for the monitoring server, random if 0")
	runCmd.Flags().BoolVar(&runFlags.openDashboard,
		"open", false,
		"open the monitoring server in a browser")
	runCmd.Flags().BoolVar(&runFlags.continueOnError,
		"continue-on-error", false,
		"continue with remaining replications when a model fails")
	runCmd.Flags().BoolVarP(&runFlags.verbose,
		"verbose", "v", false,
		"enable debug logging")
}

func runExperiment() error {
	_ = godotenv.Load()

	if runFlags.verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg, err := loadConfig(runFlags.configFile)
	if err != nil {
		return err
	}

	control, err := experiment.NewRunControl(cfg.Name,
		sim.FloatTime(cfg.StartTime),
		sim.FloatTime(cfg.WarmupPeriod),
		sim.FloatTime(cfg.RunLength))
	if err != nil {
		return err
	}

	var model *queueing.Model
	exp := experiment.New(cfg.Name, control, cfg.Replications, cfg.Seed,
		func(r *experiment.Replication[sim.FloatTime]) sim.Model[sim.FloatTime] {
			model = queueing.New(queueing.Config{
				ArrivalRate: cfg.Model.ArrivalRate,
				ServiceRate: cfg.Model.ServiceRate,
				Seed:        r.Seed(),
			})

			return model
		})

	if runFlags.continueOnError {
		exp.WithContinueOnError()
	}

	if runFlags.dbFile != "" {
		recorder, rErr := datarecording.NewSQLiteRecorder(runFlags.dbFile)
		if rErr != nil {
			return rErr
		}
		defer recorder.Close()

		observer, oErr := datarecording.NewReplicationObserver[sim.FloatTime](
			recorder)
		if oErr != nil {
			return oErr
		}

		exp.AddObserver(observer)
	}

	if runFlags.enableMonitor {
		monitor := monitoring.NewMonitor().
			WithPortNumber(runFlags.monitorPort)
		exp.WithEngineHook(func(e *sim.Engine[sim.FloatTime]) {
			monitor.RegisterEngine(e)
		})

		if err := monitor.StartServer(); err != nil {
			return err
		}

		if runFlags.openDashboard {
			if bErr := browser.OpenURL(
				"http://" + monitor.Addr()); bErr != nil {
				logrus.WithError(bErr).
					Warn("Cannot open the monitoring dashboard")
			}
		}
	}

	results, err := exp.Run()
	if err != nil {
		return err
	}

	printResults(results, model)

	return nil
}

func loadConfig(path string) (*experimentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading experiment config: %w", err)
	}

	cfg := &experimentConfig{
		Replications: 1,
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing experiment config: %w", err)
	}

	if cfg.Model.ArrivalRate <= 0 || cfg.Model.ServiceRate <= 0 {
		return nil, fmt.Errorf(
			"arrival_rate and service_rate must be positive")
	}

	return cfg, nil
}

func printResults(
	results []experiment.Result,
	lastModel *queueing.Model,
) {
	for _, r := range results {
		entry := logrus.WithFields(logrus.Fields{
			"replication": r.Number,
			"seed":        r.Seed,
			"end_time":    r.EndTime,
		})

		if r.Err != nil {
			entry.WithError(r.Err).Error("Replication failed")

			continue
		}

		entry.Info("Replication finished")
	}

	if lastModel != nil {
		stats := lastModel.Stats()
		logrus.WithFields(logrus.Fields{
			"arrived":      stats.Arrived,
			"served":       stats.Served,
			"max_in_queue": stats.MaxInQueue,
		}).Info("Last replication statistics")
	}
}
