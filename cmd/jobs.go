package main

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"libraryledger/internal/database"
	"libraryledger/internal/notify"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Open(a.cfg)
			if err != nil {
				return err
			}
			defer database.Close(db)
			return database.Migrate(db)
		},
	}
}

func newRemindCmd(a *app) *cobra.Command {
	var (
		date   string
		window int
	)
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Publish due-soon and overdue reminders for open loans",
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf := time.Now()
			if date != "" {
				parsed, err := time.Parse("2006-01-02", date)
				if err != nil {
					return err
				}
				asOf = parsed
			}
			if !cmd.Flags().Changed("window") {
				window = a.cfg.ReminderWindowDays
			}

			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer database.Close(db)
			publisher := notify.Connect(a.cfg.RabbitURL)
			defer publisher.Close()

			summary, err := a.buildServices(db, publisher).lending.SendReminders(cmd.Context(), asOf, window)
			if err != nil {
				return err
			}
			cmd.Printf("due soon: %d  overdue: %d  failed: %d\n", summary.DueSoon, summary.Overdue, summary.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "evaluate loans as of this day (YYYY-MM-DD, default today)")
	cmd.Flags().IntVar(&window, "window", 2, "days ahead of the due date to send a due-soon reminder")
	return cmd
}

func newReconcileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute copy and loan counters from the borrow records",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer database.Close(db)

			report, err := a.buildServices(db, notify.LogPublisher{}).lending.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().Int("books", len(report.BooksFixed)).Int("members", len(report.MembersFixed)).Msg("reconcile finished")
			for _, id := range report.BooksFixed {
				cmd.Printf("book   %s\n", id)
			}
			for _, id := range report.MembersFixed {
				cmd.Printf("member %s\n", id)
			}
			return nil
		},
	}
}

