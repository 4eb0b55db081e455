package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ossyrian/mintywz/internal/config"
	"github.com/ossyrian/mintywz/internal/crypto"
	"github.com/ossyrian/mintywz/internal/logging"
	"github.com/ossyrian/mintywz/internal/ops"
	"github.com/ossyrian/mintywz/internal/tree"
	"github.com/ossyrian/mintywz/internal/wz"
)

// Exit codes
const (
	exitOK         = 0
	exitUsage      = 1
	exitFormat     = 2
	exitIO         = 3
	exitUnknownKey = 4
	exitBruteForce = 5
)

var (
	cfgFile string
	cfg     *config.Config
	opts    ops.Options
	osFs    = afero.NewOsFs()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:               "mintywz",
	Short:             "Inspect, extract and build MapleStory WZ archives",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

var listCmd = &cobra.Command{
	Use:   "list <archive.wz>",
	Short: "List the packages and images of an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ops.List(osFs, args[0], opts, printLine(cmd.OutOrStdout()))
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract <archive.wz> [target-dir]",
	Short: "Extract every image of an archive into a directory tree",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := ""
		if len(args) == 2 {
			target = args[1]
		}
		return ops.Extract(cmd.Context(), osFs, args[0], target, opts)
	},
}

var createCmd = &cobra.Command{
	Use:   "create <dir> <archive.wz>",
	Short: "Pack a directory of images into an archive",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ops.Create(osFs, args[0], args[1], opts)
	},
}

var debugCmd = &cobra.Command{
	Use:   "debug <archive.wz>",
	Short: "Dump the header and package tree of an archive as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o := opts
		o.Subpath, _ = cmd.Flags().GetString("subpath")
		o.Images, _ = cmd.Flags().GetBool("images")
		return ops.Debug(osFs, args[0], cmd.OutOrStdout(), o)
	},
}

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Work with standalone .img files",
}

var imageListCmd = &cobra.Command{
	Use:   "list <file.img>",
	Short: "List the properties of an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ops.ListImage(osFs, args[0], opts, printLine(cmd.OutOrStdout()))
	},
}

var imageDebugCmd = &cobra.Command{
	Use:   "debug <file.img>",
	Short: "Dump the properties of an image as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o := opts
		o.Subpath, _ = cmd.Flags().GetString("subpath")
		return ops.DebugImage(osFs, args[0], cmd.OutOrStdout(), o)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	// WZ settings
	rootCmd.PersistentFlags().StringP("key", "k", "gms", "archive encryption key (gms, kms, none)")
	rootCmd.PersistentFlags().Int("game-version", 0, "MapleStory game version (0 = detect when reading, 83 when writing)")

	// performance
	rootCmd.PersistentFlags().Int("workers", 0, "number of parallel extraction workers (0 = number of CPUs)")
	rootCmd.PersistentFlags().Int("cache-size", 64, "number of decoded images to keep in memory")
	rootCmd.PersistentFlags().Bool("mmap", false, "memory-map archives instead of reading them")

	// other opts
	rootCmd.PersistentFlags().Bool("deep", false, "list properties inside images")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-output-dir", "", "directory to write log files (if set, logs are written to both stderr and file)")

	viper.BindPFlag("key", rootCmd.PersistentFlags().Lookup("key"))
	viper.BindPFlag("game_version", rootCmd.PersistentFlags().Lookup("game-version"))
	viper.BindPFlag("workers", rootCmd.PersistentFlags().Lookup("workers"))
	viper.BindPFlag("cache_size", rootCmd.PersistentFlags().Lookup("cache-size"))
	viper.BindPFlag("mmap", rootCmd.PersistentFlags().Lookup("mmap"))
	viper.BindPFlag("deep", rootCmd.PersistentFlags().Lookup("deep"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_output_dir", rootCmd.PersistentFlags().Lookup("log-output-dir"))

	debugCmd.Flags().String("subpath", "", "only dump the node at this path")
	debugCmd.Flags().Bool("images", false, "include decoded images")
	imageDebugCmd.Flags().String("subpath", "", "only dump the property at this path")

	imageCmd.AddCommand(imageListCmd, imageDebugCmd)
	rootCmd.AddCommand(listCmd, extractCmd, createCmd, debugCmd, imageCmd)
}

// initConfig reads in config file and environment variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "mintywz"))
		}
		viper.AddConfigPath("/etc/mintywz")
		viper.SetConfigName("config")
		viper.SetConfigType("toml")
	}

	viper.SetEnvPrefix("MINTYWZ")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// setup loads the config and logging before any subcommand runs
func setup(cmd *cobra.Command, args []string) error {
	cfg = &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := logging.Setup(cfg.LogLevel, cfg.LogOutputDir); err != nil {
		return fmt.Errorf("could not set up logging: %w", err)
	}

	var err error
	opts, err = cfg.Options(slog.Default().With("command", cmd.Name()))
	return err
}

func printLine(w io.Writer) func(string) error {
	return func(s string) error {
		_, err := fmt.Fprintln(w, s)
		return err
	}
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var pathErr *fs.PathError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, crypto.ErrUnknownRegion):
		return exitUnknownKey
	case errors.Is(err, wz.ErrBruteForceChecksum):
		return exitBruteForce
	case wz.IsFormatError(err),
		errors.Is(err, ops.ErrUnsafeName),
		errors.Is(err, tree.ErrDuplicate),
		errors.Is(err, tree.ErrNotNamed),
		errors.Is(err, tree.ErrNotFound):
		return exitFormat
	case errors.As(err, &pathErr),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrShortWrite):
		return exitIO
	default:
		return exitUsage
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(exitCode(err))
	}
}
