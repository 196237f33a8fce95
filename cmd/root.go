package cmd

import (
	"context"

	"github.com/liftlog/liftsocial/internal/configs"
	logger "github.com/liftlog/liftsocial/internal/logging"
	"github.com/liftlog/liftsocial/internal/utils"
	"github.com/liftlog/liftsocial/internal/workflows"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	verbose    bool
	debug      bool
	configPath string
	Logger     logger.Logger

	// appConfig is loaded once per command invocation in setupCommand.
	appConfig *configs.Config
)

// Commands returns every top-level command group.
func Commands() []*cobra.Command {
	return []*cobra.Command{IdentityCmd, FollowCmd, InboxCmd, ClubCmd, FeedCmd, PruneCmd, LogCmd}
}

func init() {
	for _, c := range Commands() {
		c.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
		c.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")
		c.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/liftsocial/config.toml)")
		c.PersistentPreRunE = setupCommand
	}
}

// setupCommand loads the config and initialises logging for every command.
func setupCommand(cmd *cobra.Command, args []string) error {
	Logger = logger.Logger{
		Verbose: verbose,
		Debug:   debug,
	}
	Logger.Debugf("Initializing %s with verbose=%t, debug=%t", cmd.CommandPath(), verbose, debug)

	path := configPath
	if path == "" {
		path = configs.UserSettings.ConfigPath()
	}
	Logger.Debugf("Loading config from: %s", path)
	cfg, err := configs.Load(path)
	if err != nil {
		return Logger.ErrorfAndReturn("failed to load config: %v", err)
	}
	appConfig = cfg

	level := cfg.Log.Level
	if verbose || debug {
		level = Logger.Level()
	}
	if err := logger.InitLog(level, cfg.Log.Path); err != nil {
		return Logger.ErrorfAndReturn("failed to initialise logging: %v", err)
	}
	return nil
}

// openSession unlocks the identity. It must run before any spinner starts
// because it may prompt for the passphrase.
func openSession(ctx context.Context) (*workflows.Session, error) {
	passphrase, err := utils.PassphraseFrom(configs.EnvPassphrase, "Identity passphrase: ")
	if err != nil {
		return nil, err
	}
	defer clear(passphrase)

	Logger.Debugf("Unlocking identity at %s", appConfig.Identity.Path)
	s, err := workflows.Open(ctx, appConfig, passphrase)
	if err != nil {
		return nil, err
	}
	Logger.Infof("Unlocked identity %s", s.UserID())
	return s, nil
}

// closeSession persists the keyring. Failures are reported but do not
// change the command's outcome.
func closeSession(s *workflows.Session) {
	if err := s.Close(); err != nil {
		Logger.Errorf("Failed to close session: %v", err)
	}
}

// runWithSession opens a session, reporting unlock failures the same way
// as command failures, and runs fn with it.
func runWithSession(fn func(ctx context.Context, s *workflows.Session) error) error {
	ctx := context.Background()
	s, err := openSession(ctx)
	if err != nil {
		return printError(err)
	}
	defer closeSession(s)
	return fn(s.Context(ctx), s)
}

// ResetGlobalState resets all global variables to their default values for testing.
func ResetGlobalState() {
	verbose = false
	debug = false
	configPath = ""
	appConfig = nil
	resetCommandState()
	for _, c := range Commands() {
		resetFlags(c)
	}
}

// resetFlags clears Changed on c and its subcommands to prevent test pollution.
func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(flag *pflag.Flag) {
		flag.Changed = false
	})
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// SetLogger sets the logger for testing.
func SetLogger(l logger.Logger) {
	Logger = l
}
