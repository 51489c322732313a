// Command supportctl inspects and maintains a SupportPipe state directory:
// shipment status, shipment listings, order registration, report exports and
// the configured stage table.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BTreeMap/SupportPipe/internal/report"
	"github.com/BTreeMap/SupportPipe/internal/shipment"
	"github.com/BTreeMap/SupportPipe/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	defaultStateDir   = "/var/lib/supportpipe"
	defaultDBFileName = "supportpipe.db"
)

// app holds the resolved global flags and lazily opened backends.
type app struct {
	stateDir   string
	dbDSN      string
	stagesFile string
	exportPath string

	st  store.Store
	mgr *shipment.Manager
}

func main() {
	_ = godotenv.Load()
	a := &app{}
	err := newRootCmd(a).Execute()
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "supportctl",
		Short: "Operate a SupportPipe deployment",
		Long: `supportctl reads and writes the SupportPipe store directly.

Available commands:
  status     - Show the current stage of a shipment
  shipments  - List issued shipments
  orders     - Register orders customers can log in with
  export     - Write Excel reports
  stages     - Print the shipment stage table`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&a.stateDir, "state-dir", envOr("SUPPORTPIPE_STATE_DIR", defaultStateDir), "state directory (overrides $SUPPORTPIPE_STATE_DIR)")
	root.PersistentFlags().StringVar(&a.dbDSN, "db-dsn", os.Getenv("DATABASE_URL"), "database DSN or SQLite path (overrides $DATABASE_URL)")
	root.PersistentFlags().StringVar(&a.stagesFile, "stages-file", os.Getenv("STAGES_FILE"), "YAML stage table (overrides $STAGES_FILE)")

	root.AddCommand(
		newStatusCmd(a),
		newShipmentsCmd(a),
		newOrdersCmd(a),
		newExportCmd(a),
		newStagesCmd(a),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// open connects to the store and builds the manager on first use.
func (a *app) open() error {
	if a.st != nil {
		return nil
	}
	dsn := a.dbDSN
	if dsn == "" {
		dsn = filepath.Join(a.stateDir, defaultDBFileName)
	}
	var opt store.Option
	if store.DetectDSNType(dsn) == "postgres" {
		opt = store.WithPostgresDSN(dsn)
	} else {
		opt = store.WithSQLiteDSN(dsn)
	}
	st, err := store.New(opt)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	stages, err := a.stages()
	if err != nil {
		st.Close()
		return err
	}
	a.st = st
	a.mgr = shipment.NewManager(st, shipment.WithStageTable(stages))
	return nil
}

func (a *app) stages() (shipment.StageTable, error) {
	if a.stagesFile == "" {
		return shipment.DefaultStageTable(), nil
	}
	return shipment.LoadStageTable(a.stagesFile)
}

func (a *app) reporter(dir string) *report.Reporter {
	if dir == "" {
		dir = filepath.Join(a.stateDir, "exports")
	}
	return report.NewReporter(a.st, a.mgr.StatusOf, dir)
}

func (a *app) close() error {
	if a.st == nil {
		return nil
	}
	err := a.st.Close()
	a.st, a.mgr = nil, nil
	return err
}
