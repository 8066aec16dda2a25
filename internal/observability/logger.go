package observability

import (
	"fmt"

	"github.com/digitlab/digitlab/internal/logger"
)

// promLogger routes promhttp handler errors into the module logger.
type promLogger struct{}

func (promLogger) Println(v ...any) {
	logger.Global().Module("observability").Error("Metrics handler error", logger.String("detail", fmt.Sprint(v...)))
}
