package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/TXBk0032-1/SisterOS/internal/backup"
)

var backupName string

var backupCmd = &cobra.Command{
	Use:   "backup [name]",
	Short: "Create a verified snapshot of the store and config tree",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		name := backupName
		if len(args) == 1 {
			name = args[0]
		}

		archive, err := a.engine.CreateBackup(cmd.Context(), name, backup.KindManual, false)
		if err != nil {
			return err
		}
		fmt.Printf("Created %s (%s, %s)\n",
			archive.ID, archive.Status, humanize.Bytes(uint64(archive.SizeBytes)))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List archives in the backup catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		archives := a.engine.ListBackups()
		if len(archives) == 0 {
			fmt.Println("No backups found.")
			return nil
		}
		renderArchives(archives, false)
		return nil
	},
}

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <archive-id>",
	Short: "Delete one archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if err := a.engine.DeleteBackup(args[0], deleteForce); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var cleanupDryRun bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Apply the retention policy to the archive set",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		doomed, err := a.engine.Cleanup(cmd.Context(), cleanupDryRun)
		if err != nil {
			return err
		}
		if len(doomed) == 0 {
			fmt.Println("Nothing to prune.")
			return nil
		}
		verb := "Pruned"
		if cleanupDryRun {
			verb = "Would prune"
		}
		for _, archive := range doomed {
			fmt.Printf("%s %s (%s, created %s)\n", verb, archive.ID,
				humanize.Bytes(uint64(archive.SizeBytes)),
				humanize.Time(archive.CreatedAt))
		}
		return nil
	},
}

var (
	restoreYes         bool
	restoreBackupID    string
	restoreInteractive bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore [archive-id]",
	Short: "Restore the store from an archive",
	Long: `Restore replaces the live store with the archive's copy. A safety
backup of the current state is taken first; if the restored store fails
verification the original is put back automatically.

The target archive is given as an argument or with --backup; with
--interactive the available archives are listed for selection.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		id := restoreBackupID
		if len(args) == 1 {
			id = args[0]
		}
		switch {
		case id != "" && restoreInteractive:
			return fmt.Errorf("both an archive ID and --interactive given: %w", backup.ErrAmbiguousRestoreTarget)
		case id == "" && !restoreInteractive:
			return fmt.Errorf("no archive selected, pass an ID or --interactive: %w", backup.ErrAmbiguousRestoreTarget)
		case restoreInteractive:
			id, err = selectArchive(a.engine.ListBackups())
			if err != nil {
				return err
			}
		}

		if !restoreYes && !confirmRestore(id) {
			fmt.Println("Restore cancelled.")
			return nil
		}

		plan, err := a.coord.Restore(cmd.Context(), id, false)
		if err != nil {
			if plan != nil && plan.State == backup.StateRolledBack {
				fmt.Fprintf(os.Stderr, "Restore failed, original store rolled back (safety backup %s)\n", plan.SafetyID)
			}
			return err
		}
		fmt.Printf("Restored %s (safety backup %s)\n", plan.TargetID, plan.SafetyID)
		return nil
	},
}

func init() {
	backupCmd.Flags().StringVar(&backupName, "name", "", "archive name (default: timestamped)")
	deleteCmd.Flags().BoolVar(&deleteForce, "force", false, "delete even the newest verified archive")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report what would be pruned without deleting")
	restoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "skip the confirmation prompt")
	restoreCmd.Flags().StringVar(&restoreBackupID, "backup", "", "archive ID to restore")
	restoreCmd.Flags().BoolVar(&restoreInteractive, "interactive", false, "pick the archive from a numbered list")
}

func renderArchives(archives []backup.Archive, numbered bool) {
	table := tablewriter.NewWriter(os.Stdout)
	header := []string{"ID", "Kind", "Status", "Size", "Created"}
	if numbered {
		header = append([]string{"#"}, header...)
	}
	table.SetHeader(header)
	table.SetBorder(false)
	for i, archive := range archives {
		row := []string{
			archive.ID,
			string(archive.Kind),
			string(archive.Status),
			humanize.Bytes(uint64(archive.SizeBytes)),
			humanize.Time(archive.CreatedAt),
		}
		if numbered {
			row = append([]string{strconv.Itoa(i + 1)}, row...)
		}
		table.Append(row)
	}
	table.Render()
}

// selectArchive prompts the operator to pick an archive by number.
func selectArchive(archives []backup.Archive) (string, error) {
	if len(archives) == 0 {
		return "", fmt.Errorf("no archives available: %w", backup.ErrAmbiguousRestoreTarget)
	}
	renderArchives(archives, true)
	fmt.Printf("Select archive [1-%d]: ", len(archives))

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading selection: %w", backup.ErrAmbiguousRestoreTarget)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 1 || n > len(archives) {
		return "", fmt.Errorf("invalid selection %q: %w", strings.TrimSpace(line), backup.ErrAmbiguousRestoreTarget)
	}
	return archives[n-1].ID, nil
}

func confirmRestore(id string) bool {
	fmt.Printf("This will replace the live store with archive %s.\nType 'yes' to continue: ", id)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}
