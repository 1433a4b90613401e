package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filewarden/allowlist"
	"filewarden/clamav"
	"filewarden/classify"
	"filewarden/config"
	"filewarden/deletion"
	"filewarden/detect"
	"filewarden/fuzzy"
	"filewarden/logger"
	"filewarden/metadata"
	"filewarden/notify"
	"filewarden/organize"
	"filewarden/output"
	"filewarden/quarantine"
	"filewarden/scanner"
	"filewarden/status"
	"filewarden/systeminfo"
	"filewarden/virustotal"
	"filewarden/walker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel)

	metrics := output.Metrics{}
	writer, err := output.New(output.Options{
		FileName:        cfg.OutputFileName,
		MaxFileSize:     cfg.MaxOutputFileSize,
		OtelEndpoint:    cfg.OtelEndpoint,
		OtelHeaders:     cfg.OtelHeaders,
		OtelServiceName: cfg.OtelServiceName,
		OtelTimeout:     cfg.OtelTimeout,
	}, systeminfo.Collect(), &metrics)
	if err != nil {
		logger.Fatalf("Failed to initialize output: %v", err)
	}
	defer writer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	notifier := notify.NewAsync(notify.LogSink{}, 0)
	defer notifier.Close()
	var sink status.Sink = status.NewBarSink()

	var runErr error
	switch cfg.Mode {
	case "scan":
		runErr = runScan(ctx, cfg, writer, sink, notifier)
	case "organize":
		runErr = runOrganize(ctx, cfg, writer, sink)
	case "delete":
		runErr = runDelete(ctx, cfg, writer, sink)
	default:
		runErr = fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if runErr != nil {
		if runErr == context.Canceled {
			logger.Warn("Run interrupted; partial results written.")
			return
		}
		logger.Fatalf("%s failed: %v", cfg.Mode, runErr)
	}
	logger.Infof("%s completed successfully.", cfg.Mode)
}

func runScan(ctx context.Context, cfg *config.Config, writer *output.Writer, sink status.Sink, notifier notify.Sink) error {
	local := clamav.New(clamav.Options{
		SocketPath:   cfg.ClamdSocket,
		Host:         cfg.ClamdHost,
		Port:         cfg.ClamdPort,
		ProbeTimeout: cfg.ClamdProbeTimeout,
		ScanTimeout:  cfg.ClamdScanTimeout,
	})
	if !local.Probe() {
		logger.Warn("Local signature daemon unreachable; relying on cloud and anomaly stages.")
	}

	var cloud detect.CloudScanner
	if cfg.VirusTotalAPIKey != "" {
		cloud = virustotal.New(virustotal.Options{
			APIKey:            cfg.VirusTotalAPIKey,
			UploadMaxSize:     cfg.CloudUploadMaxSize,
			QueryTimeout:      cfg.CloudQueryTimeout,
			UploadTimeout:     cfg.CloudUploadTimeout,
			RequestsPerMinute: cfg.CloudRequestsPerMinute,
		})
	} else {
		logger.Info("No cloud API key configured; cloud stage disabled.")
	}

	var allow *allowlist.Allowlist
	if cfg.AllowlistFile != "" {
		loaded, err := allowlist.Load(cfg.AllowlistFile)
		if err != nil {
			return fmt.Errorf("load allowlist: %w", err)
		}
		allow = loaded
		logger.Infof("Loaded %d allowlisted hashes", allow.Size())
	}

	var fuzzyHasher *fuzzy.Hasher
	if cfg.FuzzyHash {
		fuzzyHasher = fuzzy.New(cfg.FuzzyMinSize, cfg.FuzzyMaxSize)
	}

	classifier := classify.New(nil, cfg.UseClassifier, cfg.RuleConfidence)
	pipeline := detect.NewPipeline(local, cloud, classifier, allow, fuzzyHasher, detect.Config{
		LowConfidenceThreshold: cfg.LowConfidenceThreshold,
		HighEntropyThreshold:   cfg.HighEntropyThreshold,
		AnomalyThreshold:       cfg.AnomalyThreshold,
		HighRiskExtensions:     cfg.HighRiskExtensions,
		TinyFileBytes:          cfg.TinyFileBytes,
		HugeFileBytes:          cfg.HugeFileBytes,
		CloudAlways:            cfg.CloudAlways,
		CloudPollAttempts:      cfg.CloudPollAttempts,
		CloudPollBackoff:       cfg.CloudPollBackoff,
		HashAlgorithms:         cfg.HashAlgorithms,
	})

	var quar scanner.Quarantiner
	if cfg.QuarantineInfected {
		manager, err := quarantine.NewManager(cfg.QuarantineRoot, cfg.ThreatLevelCutoff)
		if err != nil {
			return fmt.Errorf("open quarantine store: %w", err)
		}
		quar = manager
	}

	summary, err := scanner.New(cfg, pipeline, quar, writer, sink, notifier).Run(ctx)
	if summary != nil {
		logger.Infof("Scanned %d files in %s: %d infected, %d quarantined, %d failed",
			summary.Scanned, summary.Duration.Round(time.Millisecond), summary.Infected, summary.Quarantined, summary.Failed)
	}
	return err
}

func runOrganize(ctx context.Context, cfg *config.Config, writer *output.Writer, sink status.Sink) error {
	classifier := classify.New(nil, cfg.UseClassifier, cfg.RuleConfidence)
	walk := walker.New(cfg.Recursive, cfg.ExcludedDirNames)
	engine := organize.NewEngine(classifier, walk, metadata.Options{
		HashAlgorithms:     cfg.HashAlgorithms,
		HashMaxFileSize:    cfg.HashMaxFileSize,
		EntropySampleBytes: cfg.EntropySampleBytes,
	}, organize.Options{
		Base:         cfg.DestinationBase,
		DatedFolders: cfg.DatedFolders,
		DryRun:       cfg.DryRun,
		ProgressStep: cfg.ProgressEvery,
	})
	result, err := engine.Organize(ctx, cfg.StartPath, sink)
	if result != nil {
		for i := range result.Moves {
			writer.Write(output.RecordMove, result.Moves[i])
		}
		writer.Write(output.RecordSummary, result)
		logger.Infof("Organized %d of %d files (dry run: %t)", result.Moved, result.TotalFiles, result.DryRun)
	}
	return err
}

func runDelete(ctx context.Context, cfg *config.Config, writer *output.Writer, sink status.Sink) error {
	walk := walker.New(cfg.Recursive, cfg.ExcludedDirNames)
	engine, err := deletion.NewEngine(walk, deletion.Options{
		Rules: deletion.Rules{
			Extensions:    cfg.DeleteExtensions,
			OlderThanDays: cfg.OlderThanDays,
			SizeBelowKB:   cfg.SizeBelowKB,
		},
		Permanent:    cfg.Permanent,
		TrashDir:     cfg.TrashDir,
		DryRun:       cfg.DryRun,
		ProgressStep: cfg.ProgressEvery,
	})
	if err != nil {
		return err
	}
	result, err := engine.Run(ctx, cfg.StartPath, sink)
	if result != nil {
		for i := range result.Deletions {
			writer.Write(output.RecordDeletion, result.Deletions[i])
		}
		writer.Write(output.RecordSummary, result)
		logger.Infof("Deleted %d of %d matched files, %d bytes freed (dry run: %t)",
			result.Deleted, result.Selected, result.BytesFreed, result.DryRun)
	}
	return err
}

func handleSignals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	handleSignalEvent(cancel, sigChan)
}

func handleSignalEvent(cancel context.CancelFunc, sigChan <-chan os.Signal) {
	<-sigChan
	logger.Info("Interrupt signal received. Shutting down...")
	cancel()
}
