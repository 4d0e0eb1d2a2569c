package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"libraryledger/internal/config"
	"libraryledger/internal/database"
	"libraryledger/internal/notify"
	"libraryledger/internal/repositories"
	"libraryledger/internal/services"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// app carries the configuration loaded once for every subcommand.
type app struct {
	cfg config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "library",
		Short:         "Library lending ledger: HTTP API and maintenance jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			zerolog.SetGlobalLevel(cfg.LogLevel)
			a.cfg = cfg
			return nil
		},
	}
	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newRemindCmd(a),
		newReconcileCmd(a),
	)
	return root
}

// openDB connects and, when AUTO_MIGRATE is set, brings the schema up to date.
func (a *app) openDB() (*gorm.DB, error) {
	db, err := database.Open(a.cfg)
	if err != nil {
		return nil, err
	}
	if a.cfg.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			database.Close(db)
			return nil, err
		}
	}
	return db, nil
}

type serviceSet struct {
	lending services.LendingService
	catalog services.CatalogService
}

func (a *app) buildServices(db *gorm.DB, publisher notify.Publisher, opts ...services.Option) serviceSet {
	userRepo := repositories.NewUserRepository(db)
	memberRepo := repositories.NewMemberRepository(db)
	bookRepo := repositories.NewBookRepository(db)
	recordRepo := repositories.NewBorrowRecordRepository(db)
	reservationRepo := repositories.NewReservationRepository(db)
	refRepo := repositories.NewReferenceRepository(db)

	return serviceSet{
		lending: services.NewLendingService(db, memberRepo, bookRepo, recordRepo, reservationRepo, publisher, a.cfg.FineBlockThreshold, opts...),
		catalog: services.NewCatalogService(db, userRepo, memberRepo, bookRepo, refRepo),
	}
}
