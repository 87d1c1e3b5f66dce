package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-eodms-download/internal/database"
	"go-eodms-download/internal/helpers"
	"go-eodms-download/internal/models"
)

// dbCmd represents the base command for database operations
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the download-state database",
	Long:  `View, verify or remove the per-record download state entries.`,
}

// dbViewCmd represents the command to view database entries
var dbViewCmd = &cobra.Command{
	Use:   "view",
	Short: "List the download-state entries",
	Run:   runDbView,
}

// dbGetCmd prints one entry as JSON
var dbGetCmd = &cobra.Command{
	Use:   "get [COLLECTION_ID] [RECORD_ID]",
	Short: "Print one entry as JSON",
	Args:  cobra.ExactArgs(2),
	Run:   runDbGet,
}

// dbVerifyCmd checks entries against the filesystem
var dbVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify downloaded files against the database entries",
	Long: `Checks that every file recorded as downloaded still exists, and
optionally re-hashes it against the stored BLAKE3 checksum.`,
	Run: runDbVerify,
}

// dbDeleteCmd removes one entry
var dbDeleteCmd = &cobra.Command{
	Use:   "delete [COLLECTION_ID] [RECORD_ID]",
	Short: "Remove one entry from the database",
	Args:  cobra.ExactArgs(2),
	Run:   runDbDelete,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbViewCmd)
	dbCmd.AddCommand(dbGetCmd)
	dbCmd.AddCommand(dbVerifyCmd)
	dbCmd.AddCommand(dbDeleteCmd)

	dbViewCmd.Flags().String("status", "", "Only show entries with this status (Pending, Downloaded, Error)")
	dbVerifyCmd.Flags().Bool("check-hash", true, "Re-hash existing files against the stored checksum")
}

// openStateDb opens the configured database or exits through the fatal funnel.
func openStateDb() *database.DB {
	if globalConfig.DatabasePath == "" {
		fatalExit(errors.New("DatabasePath is not set in the configuration"), nil)
	}
	db, err := database.Open(globalConfig.DatabasePath)
	if err != nil {
		fatalExit(fmt.Errorf("could not open database at %s: %w", globalConfig.DatabasePath, err), nil)
	}
	return db
}

func runDbView(cmd *cobra.Command, args []string) {
	db := openStateDb()
	defer db.Close()

	statusFilter, _ := cmd.Flags().GetString("status")
	entries, err := db.ListEntries(statusFilter)
	if err != nil {
		log.WithError(err).Error("Error occurred during database scan")
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Collection\tRecord ID\tOrder ID\tItem ID\tStatus\tFiles\tWhen")
	fmt.Fprintln(tw, "----------\t---------\t--------\t-------\t------\t-----\t----")

	for _, entry := range entries {
		when := ""
		if entry.Timestamp > 0 {
			when = time.Unix(entry.Timestamp, 0).Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			entry.CollectionID, entry.RecordID, entry.OrderID, entry.ItemID,
			entry.Status, len(entry.Paths), when)
	}
	if err := tw.Flush(); err != nil {
		log.WithError(err).Error("Error flushing table writer for db view")
	}
	log.Infof("Displayed %d entries.", len(entries))
}

func runDbGet(cmd *cobra.Command, args []string) {
	db := openStateDb()
	defer db.Close()

	entry, err := db.GetEntry(args[0], args[1])
	if errors.Is(err, database.ErrNotFound) {
		fatalExit(fmt.Errorf("no entry for record %s in collection %s", args[1], args[0]), nil)
	} else if err != nil {
		fatalExit(fmt.Errorf("could not read entry: %w", err), nil)
	}

	out, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		fatalExit(fmt.Errorf("could not render entry: %w", err), nil)
	}
	fmt.Println(string(out))
}

func runDbVerify(cmd *cobra.Command, args []string) {
	db := openStateDb()
	defer db.Close()

	checkHash, _ := cmd.Flags().GetBool("check-hash")

	entries, err := db.ListEntries(models.StatusDbDownloaded)
	if err != nil {
		log.WithError(err).Error("Error occurred during database scan")
	}

	var ok, missing, mismatched int
	for _, entry := range entries {
		for _, path := range entry.Paths {
			info, statErr := os.Stat(path.LocalDestination)
			if os.IsNotExist(statErr) {
				missing++
				log.WithField("path", path.LocalDestination).Error("[MISSING] File not found.")
				continue
			}
			if statErr != nil {
				log.WithError(statErr).Errorf("[ERROR] Could not check file status for %s", path.LocalDestination)
				continue
			}
			if info.IsDir() {
				continue
			}
			if checkHash && entry.Blake3 != "" {
				sum, hashErr := helpers.Blake3Sum(path.LocalDestination)
				if hashErr != nil {
					log.WithError(hashErr).Errorf("[ERROR] Could not hash %s", path.LocalDestination)
					continue
				}
				if sum != entry.Blake3 {
					mismatched++
					log.WithField("path", path.LocalDestination).Warn("[MISMATCH] File exists but checksum differs.")
					continue
				}
			}
			ok++
			log.WithField("path", path.LocalDestination).Debug("[OK] File verified.")
		}
	}

	log.Infof("Verification summary: OK=%d, Missing=%d, Mismatch=%d", ok, missing, mismatched)
	if missing > 0 || mismatched > 0 {
		os.Exit(1)
	}
}

func runDbDelete(cmd *cobra.Command, args []string) {
	db := openStateDb()
	defer db.Close()

	if err := db.DeleteEntry(args[0], args[1]); err != nil {
		fatalExit(fmt.Errorf("could not delete entry: %w", err), nil)
	}
	log.Infof("Deleted entry for record %s in collection %s.", args[1], args[0])
}
