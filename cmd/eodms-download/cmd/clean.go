package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// cleanCmd represents the clean command
var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove stale checkpoints, old downloads and leftover .tmp files",
	Long: `Removes partial .tmp files from the download directory, and prunes
results CSVs and downloaded products older than the KeepResults and
KeepDownloads cutoffs from the configuration (durations, e.g. "336h").
A cutoff left empty disables that pruning.`,
	Run: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().Bool("dry-run", false, "Report what would be removed without deleting anything")
}

func runClean(cmd *cobra.Command, args []string) {
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	var removed, failed int

	r, f := removeTempFiles(globalConfig.DownloadPath, dryRun)
	removed, failed = removed+r, failed+f

	if cutoff, ok := parseCutoff("KeepResults", globalConfig.KeepResults); ok {
		r, f = removeOlderThan(globalConfig.ResultsPath, ".csv", cutoff, dryRun)
		removed, failed = removed+r, failed+f
	}
	if cutoff, ok := parseCutoff("KeepDownloads", globalConfig.KeepDownloads); ok {
		r, f = removeOlderThan(globalConfig.DownloadPath, "", cutoff, dryRun)
		removed, failed = removed+r, failed+f
	}

	verb := "Removed"
	if dryRun {
		verb = "Would remove"
	}
	summary := fmt.Sprintf("Clean complete. %s %d file(s)", verb, removed)
	if failed > 0 {
		summary += fmt.Sprintf(", failed to remove %d file(s)", failed)
	}
	log.Info(summary + ".")

	if failed > 0 {
		os.Exit(1)
	}
}

// parseCutoff turns a configured retention duration into an absolute cutoff
// time. Empty disables the pruning; unparsable values are skipped loudly.
func parseCutoff(name, value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Warnf("Invalid %s duration %q, skipping that pruning", name, value)
		return time.Time{}, false
	}
	return time.Now().Add(-d), true
}

// removeTempFiles deletes leftover .tmp files from interrupted transfers.
func removeTempFiles(dir string, dryRun bool) (removed, failed int) {
	if dir == "" {
		return 0, 0
	}
	log.Infof("Scanning for .tmp files in %s...", dir)
	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warnf("Error accessing path %q during scan: %v", path, err)
			return nil
		}
		if info.IsDir() || !strings.HasSuffix(strings.ToLower(info.Name()), ".tmp") {
			return nil
		}
		if dryRun {
			log.Infof("Would remove .tmp file: %s", path)
			removed++
			return nil
		}
		if err := os.Remove(path); err != nil {
			log.Errorf("Failed to remove .tmp file %q: %v", path, err)
			failed++
		} else {
			log.Infof("Removed .tmp file: %s", path)
			removed++
		}
		return nil
	})
	if walkErr != nil {
		log.Errorf("Error during directory walk of %q: %v", dir, walkErr)
	}
	return removed, failed
}

// removeOlderThan deletes regular files under dir whose modification time is
// before the cutoff. A non-empty ext restricts the match by extension.
func removeOlderThan(dir, ext string, cutoff time.Time, dryRun bool) (removed, failed int) {
	if dir == "" {
		return 0, 0
	}
	log.Infof("Pruning files older than %s from %s...", cutoff.Format(time.RFC3339), dir)
	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warnf("Error accessing path %q during scan: %v", path, err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if ext != "" && !strings.EqualFold(filepath.Ext(info.Name()), ext) {
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if dryRun {
			log.Infof("Would remove: %s (modified %s)", path, info.ModTime().Format(time.RFC3339))
			removed++
			return nil
		}
		if err := os.Remove(path); err != nil {
			log.Errorf("Failed to remove %q: %v", path, err)
			failed++
		} else {
			log.Infof("Removed: %s", path)
			removed++
		}
		return nil
	})
	if walkErr != nil {
		log.Errorf("Error during directory walk of %q: %v", dir, walkErr)
	}
	return removed, failed
}
