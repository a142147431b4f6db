package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  "Opening the database always applies pending migrations; these commands inspect or roll them back.",
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show the schema version",
		Run:   runMigrateVersion,
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration (drops all data)",
		Run:   runMigrateDown,
	}
	downCmd.Flags().Bool("yes", false, "Confirm dropping all tables")

	migrateCmd.AddCommand(versionCmd, downCmd)
	RootCmd.AddCommand(migrateCmd)
}

func runMigrateVersion(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	v, dirty, err := s.MigrateVersion()
	if err != nil {
		exitErr("migrate version", err)
	}
	fmt.Printf(`{"version":%d,"dirty":%t}`+"\n", v, dirty)
}

func runMigrateDown(cmd *cobra.Command, args []string) {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		exitErr("migrate down", fmt.Errorf("refusing to drop all tables without --yes"))
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if err := s.MigrateDown(); err != nil {
		exitErr("migrate down", err)
	}
	fmt.Println(`{"ok":true}`)
}
