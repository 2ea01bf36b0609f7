package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/tabwriter"

	"leaf-lesion-detector/internal/config"
	"leaf-lesion-detector/internal/debug/memtracker"
	"leaf-lesion-detector/internal/debug/timing"
	"leaf-lesion-detector/internal/logger"
	"leaf-lesion-detector/internal/models"
	"leaf-lesion-detector/internal/opencv/safe"
	"leaf-lesion-detector/internal/pipeline"
	"leaf-lesion-detector/internal/services"
	"leaf-lesion-detector/internal/shutdown"

	"github.com/rs/zerolog"
)

const AppVersion = "1.0.0"

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("leaf-lesion-detector", flag.ContinueOnError)
	profilesPath := fs.String("profiles", "", "threshold profile YAML (default: built-in profiles)")
	outDir := fs.String("out", "", "directory for mask and composite PNGs (default: none)")
	background := fs.String("background", "", "force the background profile: light or dark (default: classify)")
	intensity := fs.Int("intensity", -1, "lesion intensity threshold 0-255, disables escalation (default: profile)")
	sizeThreshold := fs.Float64("size-threshold", -1, "minimum lesion size in mm² or px (default: profile)")
	workers := fs.Int("workers", runtime.NumCPU(), "parallel leaves")
	timings := fs.Bool("timing", true, "record per-stage durations and log their averages")
	logLevel := fs.String("log-level", "", "debug, info, warn or error (default: LOG_LEVEL, DEBUG=1)")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: leaf-lesion-detector [flags] <image or directory>...\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	log := logger.NewConsoleLogger(determineLogLevel(*logLevel))
	log.Info("Main", "starting", map[string]interface{}{
		"version":    AppVersion,
		"go_version": runtime.Version(),
		"workers":    *workers,
	})

	profiles := config.Default()
	if *profilesPath != "" {
		var err error
		profiles, err = config.Load(*profilesPath)
		if err != nil {
			log.Error("Main", err, map[string]interface{}{"profiles": *profilesPath})
			return 1
		}
	}

	if _, err := config.ParseBackground(*background); err != nil {
		log.Error("Main", err, nil)
		return 2
	}

	paths, err := collectImages(fs.Args())
	if err != nil {
		log.Error("Main", err, nil)
		return 1
	}

	items := make([]services.Item, len(paths))
	for i, path := range paths {
		items[i] = services.Item{Path: path, Background: *background}
		if *intensity >= 0 {
			v := *intensity
			items[i].Intensity = &v
		}
		if *sizeThreshold >= 0 {
			v := *sizeThreshold
			items[i].SizeThreshold = &v
		}
	}

	mem := memtracker.NewTracker(false)
	safe.SetMemoryTracker(mem)
	defer safe.SetMemoryTracker(nil)

	tracker := timing.NewTracker(log)
	tracker.SetEnabled(*timings)
	batch := services.NewBatchService(
		pipeline.NewLoader(log, tracker),
		pipeline.New(profiles, log, tracker),
		pipeline.NewSaver(log),
		*outDir,
		*workers,
		log,
	)

	shutdownMgr := shutdown.NewManager(context.Background(), log)
	shutdownMgr.Register(batch)
	shutdownMgr.Listen()
	defer shutdownMgr.Shutdown()

	results, err := batch.Process(shutdownMgr.Context(), items)
	tracker.LogSummary()
	mem.LogSummary(log)

	printRecords(stdout, services.Records(results))

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "failed: %s: %v\n", r.Path, r.Err)
		}
	}

	if err != nil || failed > 0 {
		return 1
	}
	return 0
}

// collectImages expands directories into the image files they contain.
func collectImages(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
				paths = append(paths, filepath.Join(arg, e.Name()))
			}
		}
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found")
	}
	return paths, nil
}

func printRecords(w io.Writer, records []*models.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(models.Header(), "\t"))
	for _, r := range records {
		fmt.Fprintln(tw, strings.Join(r.Row(), "\t"))
	}
	tw.Flush()
}

// determineLogLevel prefers the flag, then LOG_LEVEL, then DEBUG=1.
func determineLogLevel(flagValue string) zerolog.Level {
	if flagValue != "" {
		return logger.ParseLevel(flagValue)
	}
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		return logger.ParseLevel(env)
	}
	if os.Getenv("DEBUG") == "1" {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
