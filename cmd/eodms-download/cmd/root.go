package cmd

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-eodms-download/internal/config"
	"go-eodms-download/internal/eodms"
	"go-eodms-download/internal/models"
)

// supportAddress is printed alongside every fatal error so users know where
// to turn when the ordering service itself misbehaves.
const supportAddress = "eodms-sgdot@nrcan-rncan.gc.ca"

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// logLevel and logFormat configure logrus before any command runs
var logLevel string
var logFormat string

// logApiFlag holds the value of the --log-api flag
var logApiFlag bool

// downloadPathFlag holds the value of the --download-path flag
var downloadPathFlag string

// apiTimeoutFlag holds the value of the --api-timeout flag
var apiTimeoutFlag int

// globalConfig holds the loaded configuration
var globalConfig models.Config

var rootCmd = &cobra.Command{
	Use:   "eodms-download",
	Short: "Order and download satellite imagery from EODMS",
	Long: `eodms-download submits imagery orders to the EODMS ordering service,
polls them until the products are ready, downloads the files and keeps
resumable CSV checkpoints of everything it has done.`,
	PersistentPreRunE: loadGlobalConfig,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Logging format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log API requests/responses to api.log (overrides config)")
	rootCmd.PersistentFlags().StringVar(&downloadPathFlag, "download-path", "", "Directory to save downloaded products (overrides config)")
	rootCmd.PersistentFlags().IntVar(&apiTimeoutFlag, "api-timeout", -1, "Timeout for API HTTP client in seconds (overrides config, -1 uses config default)")

	cobra.OnInitialize(initLogging)
}

// initLogging configures logrus based on persistent flags
func initLogging() {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.WithError(err).Warnf("Invalid log level '%s', using default 'info'", logLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	switch logFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		log.Warnf("Invalid log format '%s', using default 'text'", logFormat)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// loadGlobalConfig loads the configuration and applies flag overrides.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		// Not fatal here: commands check the fields they actually need
		// and fail with a better message when one is missing.
		log.WithError(err).Warnf("Failed to load configuration from %s", cfgFile)
	}

	if cmd.Flags().Changed("log-api") {
		globalConfig.LogApiRequests = logApiFlag
	}
	if cmd.Flags().Changed("download-path") {
		if downloadPathFlag != "" {
			globalConfig.DownloadPath = downloadPathFlag
		} else {
			log.Warn("--download-path flag provided but value is empty, ignoring.")
		}
	}
	if cmd.Flags().Changed("api-timeout") {
		if apiTimeoutFlag > 0 {
			globalConfig.ApiClientTimeoutSec = apiTimeoutFlag
		} else {
			log.Warnf("--api-timeout flag provided with invalid value %d, using config value: %d sec",
				apiTimeoutFlag, globalConfig.ApiClientTimeoutSec)
		}
	}
	if globalConfig.ApiClientTimeoutSec <= 0 {
		globalConfig.ApiClientTimeoutSec = 120
	}

	return nil
}

// newApiClient builds the ordering-service client from the loaded config.
func newApiClient() (*eodms.Client, error) {
	httpClient := &http.Client{
		Timeout: time.Duration(globalConfig.ApiClientTimeoutSec) * time.Second,
	}
	return eodms.NewClient(globalConfig, httpClient)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM so an
// interrupted run still flushes its checkpoints on the way out.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// fatalExit is the single exit path for unrecoverable errors: flush whatever
// checkpoint state exists, point the user at support, leave non-zero.
func fatalExit(err error, flush func() error) {
	if flush != nil {
		if flushErr := flush(); flushErr != nil {
			log.WithError(flushErr).Error("Could not flush checkpoint before exiting")
		}
	}
	log.WithError(err).Error("Unrecoverable error")
	fmt.Fprintf(os.Stderr, "\n%v\n\nIf this problem persists, contact the EODMS support team at %s\n", err, supportAddress)
	os.Exit(1)
}

// promptYesNo asks on stdin and returns true only on an explicit "y".
func promptYesNo(message string) bool {
	fmt.Printf("%s (y/N): ", message)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	return strings.TrimSpace(strings.ToLower(answer)) == "y"
}
