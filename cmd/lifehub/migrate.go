package main

import (
	"github.com/spf13/cobra"

	"github.com/suPer8Hu/lifehub/internal/chat"
	"github.com/suPer8Hu/lifehub/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, err := db.Connect(cfg.DBDSN)
		if err != nil {
			return err
		}
		if err := chat.AutoMigrate(gdb); err != nil {
			return err
		}
		logger.Info("schema up to date")
		return nil
	},
}
