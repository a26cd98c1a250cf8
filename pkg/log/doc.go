/*
Package log provides structured logging for Firn using zerolog.

All components share a single global logger initialized once at process
startup via Init. Child loggers carry component and identity fields:

	logger := log.WithComponent("dispatcher")
	logger.Info().Str("table", "events").Msg("Planning query")

Log level comes from the LOG_LEVEL environment variable or the
--log-level flag; --log-json switches from console to JSON output.
*/
package log
