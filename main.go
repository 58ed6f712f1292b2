package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"

	"defectvision/internal/config"
	"defectvision/internal/logging"
	"defectvision/internal/models"
	ui "defectvision/internal/ui"
	"defectvision/processing/batch"
	processing "defectvision/processing/detector"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", config.DefaultConfigPath, "path to the JSON config file")
	batchMode := flag.Bool("batch", false, "run headless detection over every image of the batch directory")
	batchDir := flag.String("batch-dir", "", "batch input directory (default: batch_dir from the config)")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	flag.Parse()

	cfg, cfgErr := config.LoadConfigFile(*configPath)
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logging.Init(cfg.LogLevel, cfg.LogFile)
	defer logging.Close()

	log := logging.L()
	switch {
	case errors.Is(cfgErr, config.ErrClassesFile):
		log.WithError(cfgErr).Warn("using the configured class list")
	case cfgErr != nil:
		log.WithError(cfgErr).Warn("config not loaded, using defaults")
	}

	ann, err := processing.NewAnnotator(cfg.FontPath)
	if err != nil {
		log.WithError(err).Warn("font not loaded, using bitmap face")
		ann = processing.NewBasicAnnotator()
	}
	defer ann.Close()

	det, loadErr := newDetector(cfg, ann)

	var runner *processing.Runner
	if loadErr != nil {
		log.WithError(loadErr).Error("detector not available")
	} else {
		defer det.Close()
		runner = processing.NewRunner(det, ann)
		log.WithField("device", det.Device()).Info("detector ready")
	}

	if *batchMode {
		return runBatch(runner, cfg, resolveBatchDir(*batchDir, cfg))
	}

	ui.CreateApp(runner, loadErr, cfg).Run()

	if runner != nil {
		runner.Wait()
	}
	return 0
}

func newDetector(cfg *config.Config, ann *processing.Annotator) (processing.Detector, error) {
	if cfg.Backend == config.BackendRemote {
		return processing.NewRemoteDetector(cfg.Remote.Host, ann), nil
	}
	return processing.NewOnnxDetectorFromConfig(cfg.Model, ann)
}

// resolveBatchDir prefers the -batch-dir flag over the configured directory.
func resolveBatchDir(flagDir string, cfg *config.Config) string {
	if flagDir != "" {
		return flagDir
	}
	return cfg.GetBatchDir()
}

func runBatch(runner *processing.Runner, cfg *config.Config, dir string) int {
	log := logging.L()
	if runner == nil {
		log.Error("batch mode needs a loaded detector")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sum, err := batch.Run(ctx, runner, batch.Options{
		InputDir:   dir,
		ResultsDir: cfg.GetResultsDir(),
		Confidence: models.ConfidenceFromPercent(cfg.GetConfidence()),
	})
	log.Infof("batch done: %d processed, %d failed, %d defects", sum.Processed, sum.Failed, sum.Defects)
	if err != nil {
		log.WithError(err).Error("batch stopped")
		return 1
	}
	return 0
}
