package cmds

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/timcharper/dape/internal/config"
	"github.com/timcharper/dape/internal/console"
	"github.com/timcharper/dape/internal/integration/debug"
	"github.com/timcharper/dape/internal/integration/debug/dap"
	"github.com/timcharper/dape/internal/integration/process"
	"github.com/timcharper/dape/internal/logflags"
)

// shutdownGrace is how long child processes get to exit on quit before
// they are killed.
const shutdownGrace = 2 * time.Second

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of layers that should produce debug output.
	logOutput string
	// logDest is the file path where logs should go.
	logDest string
	// catalogPath is the launch catalog file.
	catalogPath string
	// timeout bounds every request to an adapter.
	timeout time.Duration
	// statePath is where breakpoints and watches are kept between runs.
	statePath string

	// breaks, watches and exceptions seed the store before the session starts.
	breaks     []string
	watches    []string
	exceptions []string
	// granularity is sent with step requests to adapters supporting it.
	granularity granularityValue
	// depth is how many levels of locals are fetched on every stop.
	depth int
	// mode filters the configs listing.
	mode string
)

// catalogNames are tried in the working directory when --config is not set.
var catalogNames = []string{"dape.yaml", "dape.yml", "dape.toml", ".dape.yaml", ".dape.toml"}

// Version identifies the build.
type Version struct {
	Version string
	Commit  string
	Date    string
}

// New returns an initialized command tree.
func New(v Version) *cobra.Command {
	rootCommand := &cobra.Command{
		Use:   "dape",
		Short: "dape is a Debug Adapter Protocol client.",
		Long: `dape drives debug adapters over the Debug Adapter Protocol.

Launch configurations come from a catalog file in YAML or TOML. Each entry
names the adapter command or port; keys under its args table are sent to
the adapter in the launch or attach request.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging()
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of layers that should produce debug output: transport, session, process, config or all.`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file.")
	rootCommand.PersistentFlags().StringVarP(&catalogPath, "config", "c", "", "Launch catalog file (default: dape.yaml or dape.toml in the working directory).")
	rootCommand.PersistentFlags().DurationVar(&timeout, "timeout", dap.DefaultTimeout, "How long to wait for each adapter response.")
	rootCommand.PersistentFlags().StringVar(&statePath, "state", "", "File keeping breakpoints, exception filters and watches between runs.")

	runCommand := &cobra.Command{
		Use:   "run <name> [key=value ...]",
		Short: "Start a session from the launch catalog.",
		Long: `Starts the named configuration and opens the console.

Arguments after the name override configuration keys. Keys starting with a
colon are adapter arguments: ":stopOnEntry=true". Environment variables
prefixed DAPE_ are applied before them.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCmd,
	}
	runCommand.Flags().StringArrayVarP(&breaks, "break", "b", nil, "Breakpoint as file:line[ if cond] or a function name. Repeatable.")
	runCommand.Flags().StringArrayVarP(&watches, "watch", "w", nil, "Watch expression. Repeatable.")
	runCommand.Flags().StringArrayVarP(&exceptions, "exception", "e", nil, "Exception filter to enable. Repeatable.")
	runCommand.Flags().Var(&granularity, "granularity", "Step granularity: statement, line or instruction.")
	runCommand.Flags().IntVar(&depth, "depth", 1, "Levels of variables fetched on every stop.")
	rootCommand.AddCommand(runCommand)

	configsCommand := &cobra.Command{
		Use:   "configs",
		Short: "List the configurations of the launch catalog.",
		Args:  cobra.NoArgs,
		RunE:  configsCmd,
	}
	configsCommand.Flags().StringVar(&mode, "mode", "", "Only list configurations for this mode.")
	rootCommand.AddCommand(configsCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Print a configuration as it would be started.",
		Args:  cobra.ExactArgs(1),
		RunE:  showCmd,
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dape %s (%s, %s)\n", v.Version, v.Commit, v.Date)
		},
	})

	rootCommand.CompletionOptions.DisableDefaultCmd = true
	return rootCommand
}

func setupLogging() error {
	if err := logflags.Setup(log, logOutput); err != nil {
		return err
	}
	if logDest != "" {
		f, err := os.OpenFile(logDest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log destination: %w", err)
		}
		logflags.SetOutput(f, &logrus.TextFormatter{DisableColors: true})
		return nil
	}
	logflags.SetOutput(colorable.NewColorableStderr(), &logrus.TextFormatter{
		ForceColors: isatty.IsTerminal(os.Stderr.Fd()),
	})
	return nil
}

func resolveCatalogPath() (string, error) {
	if catalogPath != "" {
		return catalogPath, nil
	}
	if env := os.Getenv(config.EnvPrefix + "CONFIG"); env != "" {
		return env, nil
	}
	for _, name := range catalogNames {
		if _, err := os.Stat(name); err == nil {
			return filepath.Abs(name)
		}
	}
	return "", errors.New("no launch catalog found; pass --config")
}

func loadCatalog() (*config.Catalog, error) {
	path, err := resolveCatalogPath()
	if err != nil {
		return nil, err
	}
	return config.NewLoader().Load(path)
}

// configFor returns the named configuration with environment and
// command-line overrides applied.
func configFor(cat *config.Catalog, name string, overrides []string) (config.Config, error) {
	cfg, ok := cat.Get(name)
	if !ok {
		return nil, fmt.Errorf("no configuration named %q in %s", name, cat.Path())
	}
	cfg = config.NewEnvLoader(config.EnvPrefix).Apply(cfg)
	for _, kv := range overrides {
		key, value, err := config.ParseOverride(kv)
		if err != nil {
			return nil, err
		}
		cfg[key] = value
	}
	return cfg, nil
}

func configsCmd(cmd *cobra.Command, _ []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	names := cat.Names()
	if mode != "" {
		names = cat.ForMode(mode)
	}
	out := cmd.OutOrStdout()
	for _, name := range names {
		cfg, _ := cat.Get(name)
		fmt.Fprintf(out, "%-24s %-10s %s\n", name, cfg.Type(), cfg.Request())
	}
	return nil
}

func showCmd(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	cfg, err := configFor(cat, args[0], nil)
	if err != nil {
		return err
	}
	resolved, err := cfg.Resolve()
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), resolved.Dump())
	return nil
}

// seedStore loads the persisted state and adds what the flags ask for.
func seedStore(store *debug.Store) error {
	if statePath != "" {
		store.SetPersistPath(statePath)
		if err := store.Load(); err != nil {
			return fmt.Errorf("load state: %w", err)
		}
	}
	for _, b := range breaks {
		if _, err := console.AddBreakpoint(store, b); err != nil {
			return err
		}
	}
	for _, w := range watches {
		store.AddWatch(w)
	}
	for _, e := range exceptions {
		store.SetExceptionFilter(e, true)
	}
	return nil
}

func runCmd(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	cfg, err := configFor(cat, args[0], args[1:])
	if err != nil {
		return err
	}
	if err := cfg.Ensure(); err != nil {
		return err
	}

	store := debug.NewStore()
	if err := seedStore(store); err != nil {
		return err
	}

	var out io.Writer = colorable.NewColorableStdout()
	loop := dap.NewLoop()
	defer loop.Close()
	sup := process.NewSupervisor()
	con := console.New(loop, store, console.Options{
		Out:      out,
		Color:    isatty.IsTerminal(os.Stdout.Fd()),
		Catalog:  cat,
		VarDepth: depth,
	},
		debug.WithRequestTimeout(timeout),
		debug.WithStepGranularity(granularity.String()),
		debug.WithTerminalOutput(out),
		debug.WithSupervisor(sup),
	)

	watcher, err := config.Watch(config.NewLoader(), cat.Path(), config.DefaultDebounce, func(c *config.Catalog, err error) {
		if err == nil {
			con.SetCatalog(c)
		}
	})
	if err != nil {
		logflags.ConfigLogger().Warnf("not watching %s: %v", cat.Path(), err)
	} else {
		defer watcher.Close()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		for {
			select {
			case sig := <-signals:
				if sig == syscall.SIGINT {
					con.Interrupt()
					continue
				}
				con.Quit()
			case <-con.Done():
				return
			}
		}
	}()

	con.Start(cfg)
	runErr := con.Run(os.Stdin)
	sup.Shutdown(shutdownGrace)

	if statePath != "" {
		if err := store.Save(); err != nil {
			return errors.Join(runErr, fmt.Errorf("save state: %w", err))
		}
	}
	return runErr
}
