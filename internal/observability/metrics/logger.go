package metrics

import "github.com/digitlab/digitlab/internal/logger"

// getLogger returns the metrics module logger from the current global logger.
func getLogger() logger.Logger {
	return logger.Global().Module("metrics")
}
