// Package logger configures logging for liftsocial.
//
// There are two audiences. Library packages log through logrus with a
// context (log.WithContext(ctx)); InitLog sets the level and, when a path
// is configured, rotates the output with lumberjack. The CLI prints
// human-facing progress through Logger, whose verbosity follows the
// --verbose and --debug flags:
//
//	Logger.Infof()  // shown with --verbose or --debug
//	Logger.Debugf() // shown only with --debug
//	Logger.Warnf()  // always shown
//	Logger.Errorf() // always shown
//
// Commands create a Logger in their PersistentPreRun and call InitLog with
// Logger.Level() so both audiences agree on verbosity.
package logger
