package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"booru-tagger/pkg/cache"
	"booru-tagger/pkg/config"
	"booru-tagger/pkg/learning"
	"booru-tagger/pkg/models"
	"booru-tagger/pkg/search"
	"booru-tagger/pkg/sidecar"
	"booru-tagger/pkg/workflow"
)

const version = "0.3.0"

// imageExtensions are the file types picked up by directory scans
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "process":
		runProcess(os.Args[2:], log)
	case "cache-stats":
		runCacheStats(os.Args[2:], log)
	case "cache-cleanup":
		runCacheCleanup(os.Args[2:], log)
	case "prefs-stats":
		runPrefsStats(os.Args[2:], log)
	case "prefs-export":
		runPrefsExport(os.Args[2:], log)
	case "clear-data":
		runClearData(os.Args[2:], log)
	case "version":
		fmt.Printf("booru-tagger %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: booru-tagger <command> [flags]

Commands:
  process        Reverse-search and tag images, writing XMP sidecars
  cache-stats    Show search-result cache statistics
  cache-cleanup  Remove expired search-result cache entries
  prefs-stats    Show preference-learning statistics
  prefs-export   Export learned preferences as JSON
  clear-data     Clear the result cache and learned preferences
  version        Print the version

Run 'booru-tagger <command> -h' for command flags.
`)
}

// commonFlags registers the flags every subcommand shares
func commonFlags(fs *flag.FlagSet) (configPath, logLevel *string) {
	configPath = fs.String("config", "config.yaml", "Path to YAML config file")
	logLevel = fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	return configPath, logLevel
}

// loadConfig reads, parses, and validates the YAML configuration, applying
// defaults in place and logging any validation warnings.
func loadConfig(path string, log *logrus.Logger) *config.AppConfig {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Read config file '%s' error: %v", path, err)
	}
	var appCfg config.AppConfig
	if err := yaml.Unmarshal(yamlFile, &appCfg); err != nil {
		log.Fatalf("Parse config file '%s' error: %v", path, err)
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	return &appCfg
}

func applyLogLevel(levelName string, log *logrus.Logger) {
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", levelName, err)
		return
	}
	log.SetLevel(level)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM; a second
// signal forces exit.
func signalContext(log *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancel()
		sig = <-sigChan
		log.Warnf("Received second signal: %v. Forcing exit.", sig)
		os.Exit(1)
	}()
	return ctx, cancel
}

// collectImages expands the positional arguments into a flat image list:
// files pass through, directories are scanned (optionally recursively).
func collectImages(args []string, recursive bool) ([]string, error) {
	var images []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			images = append(images, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != arg && !recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if imageExtensions[strings.ToLower(filepath.Ext(path))] {
				images = append(images, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", arg, err)
		}
	}
	sort.Strings(images)
	return images, nil
}

func runProcess(args []string, log *logrus.Logger) {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	recursive := fs.Bool("recursive", false, "Recurse into subdirectories")
	jsonOut := fs.Bool("json", false, "Print the batch summary as JSON")
	fs.Parse(args)

	applyLogLevel(*logLevel, log)
	appCfg := loadConfig(*configPath, log)

	if fs.NArg() == 0 {
		log.Fatal("process: at least one image file or directory is required")
	}
	images, err := collectImages(fs.Args(), *recursive)
	if err != nil {
		log.Fatalf("Failed to collect images: %v", err)
	}
	if len(images) == 0 {
		log.Warn("No images found, nothing to do")
		return
	}

	ctx, cancel := signalContext(log)
	defer cancel()

	searcher, err := search.New(appCfg, logrus.NewEntry(log))
	if err != nil {
		log.Fatalf("Failed to initialize searcher: %v", err)
	}
	defer searcher.Close()

	go searcher.RunCacheGC(ctx, time.Duration(appCfg.Cache.GCIntervalMinutes)*time.Minute)

	writer, err := sidecar.New(logrus.NewEntry(log).WithField("component", "sidecar"))
	if err != nil {
		log.Fatalf("Failed to initialize sidecar writer: %v", err)
	}

	prefs, err := learning.Open(appCfg.Learning.DatabasePath, logrus.NewEntry(log).WithField("component", "learning"))
	if err != nil {
		log.Fatalf("Failed to open preference store: %v", err)
	}
	defer prefs.Close()

	orch := workflow.New(searcher, nil, writer, prefs, workflow.Options{
		MaxTags:       appCfg.Workflow.MaxTags,
		SkipExisting:  appCfg.SkipExisting(),
		IncludeRating: appCfg.Workflow.IncludeRating,
		MinConfidence: appCfg.Learning.MinConfidence,
	}, logrus.NewEntry(log).WithField("component", "workflow"))

	summary := orch.ProcessBatch(ctx, images, nil)

	limiterStats := searcher.LimiterStats()
	log.Infof("Rate window at finish: %d/%d requests used", limiterStats.CurrentRequests, limiterStats.MaxRequests)

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			log.Errorf("Failed to encode summary: %v", err)
		}
	} else {
		printSummary(summary)
	}

	if summary.Errors > 0 {
		os.Exit(1)
	}
}

func printSummary(summary models.BatchSummary) {
	fmt.Printf("\nBatch %s finished in %v\n", summary.BatchID, summary.Duration.Round(time.Millisecond))
	fmt.Printf("  Total:   %d\n", summary.Total)
	fmt.Printf("  Success: %d\n", summary.Success)
	fmt.Printf("  Skipped: %d\n", summary.Skipped)
	fmt.Printf("  No tags: %d\n", summary.NoTags)
	fmt.Printf("  Errors:  %d\n", summary.Errors)

	for _, r := range summary.Results {
		if r.Status == models.ProcessStatusError {
			fmt.Printf("  ERROR %s: %s\n", r.ImagePath, r.ErrorMessage)
		}
	}
}

func openCache(appCfg *config.AppConfig, log *logrus.Logger) *cache.ResultCache {
	ttl := time.Duration(appCfg.Cache.TTLHours) * time.Hour
	resultCache, err := cache.New(appCfg.Cache.Dir, ttl, logrus.NewEntry(log).WithField("component", "cache"))
	if err != nil {
		log.Fatalf("Failed to open result cache: %v", err)
	}
	return resultCache
}

func runCacheStats(args []string, log *logrus.Logger) {
	fs := flag.NewFlagSet("cache-stats", flag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	fs.Parse(args)

	applyLogLevel(*logLevel, log)
	appCfg := loadConfig(*configPath, log)

	resultCache := openCache(appCfg, log)
	defer resultCache.Close()

	stats, err := resultCache.Stats()
	if err != nil {
		log.Fatalf("Failed to read cache stats: %v", err)
	}
	fmt.Printf("Cache entries: %d total, %d valid, %d expired (TTL %v)\n",
		stats.TotalEntries, stats.ValidEntries, stats.ExpiredEntries, stats.TTL)
}

func runCacheCleanup(args []string, log *logrus.Logger) {
	fs := flag.NewFlagSet("cache-cleanup", flag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	fs.Parse(args)

	applyLogLevel(*logLevel, log)
	appCfg := loadConfig(*configPath, log)

	resultCache := openCache(appCfg, log)
	defer resultCache.Close()

	removed, err := resultCache.CleanupExpired()
	if err != nil {
		log.Fatalf("Cache cleanup failed: %v", err)
	}
	fmt.Printf("Removed %d expired entries\n", removed)
}

func runPrefsStats(args []string, log *logrus.Logger) {
	fs := flag.NewFlagSet("prefs-stats", flag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	fs.Parse(args)

	applyLogLevel(*logLevel, log)
	appCfg := loadConfig(*configPath, log)

	prefs, err := learning.Open(appCfg.Learning.DatabasePath, logrus.NewEntry(log).WithField("component", "learning"))
	if err != nil {
		log.Fatalf("Failed to open preference store: %v", err)
	}
	defer prefs.Close()

	ctx := context.Background()
	stats, err := prefs.Stats(ctx)
	if err != nil {
		log.Fatalf("Failed to read learning stats: %v", err)
	}
	fmt.Printf("Movements: %d, Preferences: %d (%d high-confidence)\n",
		stats.TotalMovements, stats.TotalPreferences, stats.HighConfidencePreferences)

	corrections, err := prefs.Corrections(ctx)
	if err != nil {
		log.Fatalf("Failed to read corrections: %v", err)
	}
	for _, c := range corrections {
		fmt.Printf("  corrected %s -> %s: %d times\n", c.FromCategory, c.ToCategory, c.Count)
	}
}

func runPrefsExport(args []string, log *logrus.Logger) {
	fs := flag.NewFlagSet("prefs-export", flag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	outPath := fs.String("out", "", "Output file (default stdout)")
	fs.Parse(args)

	applyLogLevel(*logLevel, log)
	appCfg := loadConfig(*configPath, log)

	prefs, err := learning.Open(appCfg.Learning.DatabasePath, logrus.NewEntry(log).WithField("component", "learning"))
	if err != nil {
		log.Fatalf("Failed to open preference store: %v", err)
	}
	defer prefs.Close()

	exported, err := prefs.ExportPreferences(context.Background())
	if err != nil {
		log.Fatalf("Failed to export preferences: %v", err)
	}

	out := os.Stdout
	if *outPath != "" {
		out, err = os.Create(*outPath)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", *outPath, err)
		}
		defer out.Close()
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(exported); err != nil {
		log.Fatalf("Failed to encode preferences: %v", err)
	}
}

func runClearData(args []string, log *logrus.Logger) {
	fs := flag.NewFlagSet("clear-data", flag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	yes := fs.Bool("yes", false, "Skip the confirmation prompt")
	fs.Parse(args)

	applyLogLevel(*logLevel, log)
	appCfg := loadConfig(*configPath, log)

	if !*yes {
		fmt.Print("This removes all cached search results and learned preferences. Continue? [y/N] ")
		var answer string
		fmt.Scanln(&answer)
		if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
			fmt.Println("Aborted")
			return
		}
	}

	resultCache := openCache(appCfg, log)
	removed, err := resultCache.ClearAll()
	if err != nil {
		log.Fatalf("Failed to clear cache: %v", err)
	}
	resultCache.Close()
	fmt.Printf("Removed %d cache entries\n", removed)

	prefs, err := learning.Open(appCfg.Learning.DatabasePath, logrus.NewEntry(log).WithField("component", "learning"))
	if err != nil {
		log.Fatalf("Failed to open preference store: %v", err)
	}
	defer prefs.Close()
	if err := prefs.ClearAll(context.Background()); err != nil {
		log.Fatalf("Failed to clear preferences: %v", err)
	}
	fmt.Println("Cleared learned preferences")
}
