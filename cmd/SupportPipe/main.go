package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/BTreeMap/SupportPipe/internal/agent"
	"github.com/BTreeMap/SupportPipe/internal/api"
	"github.com/BTreeMap/SupportPipe/internal/events"
	"github.com/BTreeMap/SupportPipe/internal/fulfillment"
	"github.com/BTreeMap/SupportPipe/internal/genai"
	"github.com/BTreeMap/SupportPipe/internal/lockfile"
	"github.com/BTreeMap/SupportPipe/internal/notify"
	"github.com/BTreeMap/SupportPipe/internal/report"
	"github.com/BTreeMap/SupportPipe/internal/scheduler"
	"github.com/BTreeMap/SupportPipe/internal/shipment"
	"github.com/BTreeMap/SupportPipe/internal/store"
	"github.com/BTreeMap/SupportPipe/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for SupportPipe state data
	DefaultStateDir = "/var/lib/supportpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "supportpipe.db"
	// DefaultExportDirName is the export directory inside the state directory
	DefaultExportDirName = "exports"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(config, os.Args[1:])
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping SupportPipe with configured modules")
	if err := run(ctx, flags); err != nil {
		slog.Error("SupportPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SupportPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir      string
	DatabaseURL   string
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	OpenAIDebug   bool
	MaxTokens     int
	APIAddr       string
	ExportPath    string
	StagesFile    string
	ReportCron    string
	TwilioSID     string
	TwilioToken   string
	TwilioFrom    string
	KafkaBrokers  []string
	KafkaTopic    string
}

// Flags holds resolved command line flag values
type Flags struct {
	StateDir      string
	DBDSN         string
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	OpenAIDebug   bool
	MaxTokens     int
	APIAddr       string
	ExportPath    string
	StagesFile    string
	ReportCron    string
	TwilioSID     string
	TwilioToken   string
	TwilioFrom    string
	KafkaBrokers  []string
	KafkaTopic    string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:      os.Getenv("SUPPORTPIPE_STATE_DIR"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
		OpenAIDebug:   util.ParseBoolEnv("OPENAI_DEBUG", false),
		MaxTokens:     util.ParseIntEnv("OPENAI_MAX_TOKENS", genai.DefaultMaxTokens),
		APIAddr:       os.Getenv("API_ADDR"),
		ExportPath:    os.Getenv("EXPORT_PATH"),
		StagesFile:    os.Getenv("STAGES_FILE"),
		ReportCron:    os.Getenv("REPORT_SCHEDULE"),
		TwilioSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:    os.Getenv("TWILIO_FROM_NUMBER"),
		KafkaBrokers:  util.SplitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:    os.Getenv("KAFKA_TOPIC"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SUPPORTPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"SUPPORTPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"API_ADDR", config.APIAddr,
		"EXPORT_PATH", config.ExportPath,
		"STAGES_FILE", config.StagesFile,
		"REPORT_SCHEDULE", config.ReportCron,
		"TWILIO_SET", config.TwilioSID != "",
		"KAFKA_BROKERS", len(config.KafkaBrokers))

	return config
}

// parseCommandLineFlags parses args with environment defaults. An empty DSN
// resolves to a SQLite file in the state directory, and an empty export path to
// the exports directory beside it.
func parseCommandLineFlags(config Config, args []string) (Flags, error) {
	fs := flag.NewFlagSet("SupportPipe", flag.ContinueOnError)
	stateDir := fs.String("state-dir", config.StateDir, "state directory for SupportPipe data (overrides $SUPPORTPIPE_STATE_DIR)")
	dbDSN := fs.String("db-dsn", config.DatabaseURL, "database DSN or SQLite path (overrides $DATABASE_URL)")
	openaiKey := fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	openaiBaseURL := fs.String("openai-base-url", config.OpenAIBaseURL, "OpenAI-compatible base URL (overrides $OPENAI_BASE_URL)")
	openaiModel := fs.String("openai-model", config.OpenAIModel, "chat model (overrides $OPENAI_MODEL)")
	openaiDebug := fs.Bool("openai-debug", config.OpenAIDebug, "write LLM requests to the state directory (overrides $OPENAI_DEBUG)")
	maxTokens := fs.Int("openai-max-tokens", config.MaxTokens, "completion token limit (overrides $OPENAI_MAX_TOKENS)")
	apiAddr := fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	exportPath := fs.String("export-path", config.ExportPath, "directory for Excel reports (overrides $EXPORT_PATH)")
	stagesFile := fs.String("stages-file", config.StagesFile, "YAML stage table (overrides $STAGES_FILE)")
	reportCron := fs.String("report-schedule", config.ReportCron, "cron schedule for refreshing Excel reports, e.g. @hourly (overrides $REPORT_SCHEDULE)")
	kafkaBrokers := fs.String("kafka-brokers", strings.Join(config.KafkaBrokers, ","), "comma separated Kafka brokers (overrides $KAFKA_BROKERS)")
	kafkaTopic := fs.String("kafka-topic", config.KafkaTopic, "Kafka topic for shipment events (overrides $KAFKA_TOPIC)")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	flags := Flags{
		StateDir:      *stateDir,
		DBDSN:         *dbDSN,
		OpenAIKey:     *openaiKey,
		OpenAIBaseURL: *openaiBaseURL,
		OpenAIModel:   *openaiModel,
		OpenAIDebug:   *openaiDebug,
		MaxTokens:     *maxTokens,
		APIAddr:       *apiAddr,
		ExportPath:    *exportPath,
		StagesFile:    *stagesFile,
		ReportCron:    *reportCron,
		TwilioSID:     config.TwilioSID,
		TwilioToken:   config.TwilioToken,
		TwilioFrom:    config.TwilioFrom,
		KafkaBrokers:  util.SplitList(*kafkaBrokers),
		KafkaTopic:    *kafkaTopic,
	}
	if flags.DBDSN == "" {
		flags.DBDSN = filepath.Join(flags.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", flags.DBDSN)
	}
	if flags.ExportPath == "" {
		flags.ExportPath = filepath.Join(flags.StateDir, DefaultExportDirName)
	}

	slog.Debug("flags parsed",
		"stateDir", flags.StateDir,
		"dbDSN_set", flags.DBDSN != "",
		"openaiKeySet", flags.OpenAIKey != "",
		"apiAddr", flags.APIAddr,
		"exportPath", flags.ExportPath,
		"stagesFile", flags.StagesFile)
	return flags, nil
}

// run wires the modules together and serves until ctx is canceled.
func run(ctx context.Context, flags Flags) error {
	if err := os.MkdirAll(flags.StateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	lock, err := lockfile.AcquireLock(flags.StateDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release state directory lock", "error", err)
		}
	}()

	st, err := store.New(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	stages, err := loadStages(flags.StagesFile)
	if err != nil {
		return err
	}

	components := map[string]string{"store": store.DetectDSNType(flags.DBDSN)}
	managerOpts := []shipment.Option{shipment.WithStageTable(stages)}
	if len(flags.KafkaBrokers) > 0 {
		producer, err := events.NewKafkaProducer(buildEventsOptions(flags)...)
		if err != nil {
			return fmt.Errorf("failed to create event producer: %w", err)
		}
		defer producer.Close()
		managerOpts = append(managerOpts, shipment.WithPublisher(producer))
		components["events"] = "kafka"
	} else {
		components["events"] = "disabled"
	}
	mgr := shipment.NewManager(st, managerOpts...)

	var agentOpts []agent.Option
	if flags.OpenAIKey != "" {
		client, err := genai.NewClient(buildGenAIOptions(flags)...)
		if err != nil {
			return fmt.Errorf("failed to create GenAI client: %w", err)
		}
		agentOpts = append(agentOpts, agent.WithGenerator(client))
		components["genai"] = client.Model()
	} else {
		slog.Warn("No OpenAI API key configured, support agent runs in fallback mode")
		components["genai"] = "disabled"
	}
	supportAgent := agent.New(st, agentOpts...)

	orchOpts := []fulfillment.Option{fulfillment.WithSummarySource(supportAgent)}
	components["notifier"] = "disabled"
	if flags.TwilioSID != "" {
		sender, err := notify.NewClient(buildNotifyOptions(flags)...)
		switch {
		case errors.Is(err, notify.ErrMissingCredentials), errors.Is(err, notify.ErrMissingFromNumber):
			slog.Warn("Twilio partially configured, notifications disabled", "error", err)
		case err != nil:
			return fmt.Errorf("failed to create Twilio client: %w", err)
		default:
			orchOpts = append(orchOpts, fulfillment.WithNotifier(sender))
			components["notifier"] = "twilio"
		}
	}
	orch := fulfillment.NewOrchestrator(st, st, mgr, orchOpts...)

	reporter := report.NewReporter(st, mgr.StatusOf, flags.ExportPath)
	if flags.ReportCron != "" {
		sched := scheduler.NewScheduler(ctx)
		defer sched.Stop()
		if err := sched.AddJob(flags.ReportCron, "report-export", exportReportsJob(reporter)); err != nil {
			return err
		}
		components["reports"] = flags.ReportCron
	}

	server := api.NewServer(api.Deps{
		Store:        st,
		Shipments:    mgr,
		Agent:        supportAgent,
		Orchestrator: orch,
		Reporter:     reporter,
	}, buildAPIOptions(flags, components)...)

	slog.Debug("Final configuration", "state_dir", flags.StateDir, "api_addr", server.Addr(), "stage_total", stages.TotalDuration())
	return server.Run(ctx)
}

// exportReportsJob refreshes both workbooks in the export directory.
func exportReportsJob(reporter *report.Reporter) scheduler.Job {
	return func(ctx context.Context) error {
		_, summaryErr := reporter.ExportChatSummaries(ctx)
		_, shipmentErr := reporter.ExportShipments(ctx)
		return errors.Join(summaryErr, shipmentErr)
	}
}

// loadStages returns the stage table from path, or the default table when path is empty.
func loadStages(path string) (shipment.StageTable, error) {
	if path == "" {
		return shipment.DefaultStageTable(), nil
	}
	stages, err := shipment.LoadStageTable(path)
	if err != nil {
		return shipment.StageTable{}, fmt.Errorf("failed to load stage table: %w", err)
	}
	slog.Info("Loaded stage table", "path", path, "stages", stages.Len(), "total", stages.TotalDuration())
	return stages, nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if flags.DBDSN == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return storeOpts
	}
	if store.DetectDSNType(flags.DBDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		storeOpts = append(storeOpts, store.WithPostgresDSN(flags.DBDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", flags.DBDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(flags.DBDSN))
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if flags.OpenAIKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(flags.OpenAIKey))
	}
	if flags.OpenAIBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(flags.OpenAIBaseURL))
	}
	if flags.OpenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(flags.OpenAIModel))
	}
	if flags.MaxTokens > 0 {
		genaiOpts = append(genaiOpts, genai.WithMaxTokens(flags.MaxTokens))
	}
	if flags.OpenAIDebug {
		genaiOpts = append(genaiOpts, genai.WithDebugMode(true, flags.StateDir))
	}
	return genaiOpts
}

// buildNotifyOptions constructs Twilio configuration options
func buildNotifyOptions(flags Flags) []notify.Option {
	return []notify.Option{
		notify.WithAccountSID(flags.TwilioSID),
		notify.WithAuthToken(flags.TwilioToken),
		notify.WithFrom(flags.TwilioFrom),
	}
}

// buildEventsOptions constructs Kafka producer options
func buildEventsOptions(flags Flags) []events.Option {
	eventOpts := []events.Option{events.WithBrokers(flags.KafkaBrokers...)}
	if flags.KafkaTopic != "" {
		eventOpts = append(eventOpts, events.WithTopic(flags.KafkaTopic))
	}
	return eventOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, components map[string]string) []api.Option {
	var apiOpts []api.Option
	if flags.APIAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(flags.APIAddr))
	}
	for name, status := range components {
		apiOpts = append(apiOpts, api.WithComponentStatus(name, status))
	}
	return apiOpts
}
