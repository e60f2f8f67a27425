package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"
	"github.com/spf13/cobra"

	"github.com/himanishpuri/peakprint/pkg/logger"
	"github.com/himanishpuri/peakprint/pkg/peakprint"
	"github.com/himanishpuri/peakprint/pkg/peakprint/audio"
)

// Global flags
type globalOptions struct {
	dbPath    string
	backend   string
	mongoURI  string
	mongoDB   string
	tempDir   string
	rate      int
	workers   int
	memoryMB  int
	logLevel  string
	logCaller bool
}

var opts globalOptions

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "peakprint",
		Short:         "Acoustic fingerprinting: index songs and recognize clips",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetLevel(logger.ParseLevel(opts.logLevel))
			logger.GetLogger().SetShowCaller(opts.logCaller)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.dbPath, "db", getEnvOrDefault("PEAKPRINT_DB_PATH", ""), "SQLite file or Badger directory (env: PEAKPRINT_DB_PATH)")
	flags.StringVar(&opts.backend, "backend", getEnvOrDefault("PEAKPRINT_BACKEND", "sqlite"), "Store backend: sqlite, badger, memory or mongo (env: PEAKPRINT_BACKEND)")
	flags.StringVar(&opts.mongoURI, "mongo-uri", getEnvOrDefault("PEAKPRINT_MONGO_URI", "mongodb://localhost:27017"), "MongoDB connection URI (env: PEAKPRINT_MONGO_URI)")
	flags.StringVar(&opts.mongoDB, "mongo-db", getEnvOrDefault("PEAKPRINT_MONGO_DB", ""), "MongoDB database name (env: PEAKPRINT_MONGO_DB)")
	flags.StringVar(&opts.tempDir, "temp", getEnvOrDefault("PEAKPRINT_TEMP_DIR", os.TempDir()), "Directory for temporary audio conversion files (env: PEAKPRINT_TEMP_DIR)")
	flags.IntVar(&opts.rate, "rate", audio.DefaultSampleRate, "Audio sample rate for processing")
	flags.IntVar(&opts.workers, "workers", 0, "Parallel ingest workers (default: number of CPUs)")
	flags.IntVar(&opts.memoryMB, "memory", 0, "Memory budget in MiB for fingerprinting in flight (default: 1024)")
	flags.StringVar(&opts.logLevel, "log-level", getEnvOrDefault("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flags.BoolVar(&opts.logCaller, "log-caller", false, "Include the calling file and line in log output")

	root.AddCommand(
		newAddCmd(),
		newMatchCmd(),
		newBatchCmd(),
		newListCmd(),
		newDeleteCmd(),
		newStatsCmd(),
		newExportCmd(),
		newSliceCmd(),
		newRenderCmd(),
		newSelftestCmd(),
	)
	return root
}

// createService creates a new peakprint service with configured options
func createService(extra ...peakprint.Option) (peakprint.Service, error) {
	options := []peakprint.Option{
		peakprint.WithBackend(opts.backend),
		peakprint.WithDBPath(opts.dbPath),
		peakprint.WithMongoURI(opts.mongoURI, opts.mongoDB),
		peakprint.WithTempDir(opts.tempDir),
		peakprint.WithSampleRate(opts.rate),
		peakprint.WithLogger(logger.GetLogger()),
	}
	if opts.workers > 0 {
		options = append(options, peakprint.WithWorkers(opts.workers))
	}
	if opts.memoryMB > 0 {
		options = append(options, peakprint.WithMemoryBudget(int64(opts.memoryMB)<<20))
	}
	return peakprint.NewService(append(options, extra...)...)
}

func printBanner() {
	banner := `
                 _                _       _
 _ __   ___  __ _| | ___ __  _ __(_)_ __ | |_
| '_ \ / _ \/ _' | |/ / '_ \| '__| | '_ \| __|
| |_) |  __/ (_| |   <| |_) | |  | | | | | |_
| .__/ \___|\__,_|_|\_\ .__/|_|  |_|_| |_|\__|
|_|                   |_|
           Audio Fingerprinting CLI Tool
`
	fmt.Println(banner)
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Printf("\n❌ %v\n", err)
		logger.GetLogger().WithError(xerrors.New(err)).Errorf("Command failed")
		os.Exit(1)
	}
}
