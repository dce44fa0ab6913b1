// Package common provides the ambient pieces shared by the library and the
// command line tool: the log format used by all packages and the configuration
// structures the CLI fills from flags and environment variables.
//
// All packages obtain their logger through dragonboat's logger registry, e.g.
//
//	var log = logger.GetLogger("kv")
//
// InitLoggers installs the fKV log format as the registry's factory and sets the
// level of every fKV logger. Loggers obtained before InitLoggers are switched over
// on first use.
package common
