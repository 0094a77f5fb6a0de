package worker

import (
	"log"
	"os"
	"strings"
)

var workerDebugEnabled = strings.EqualFold(os.Getenv("DUOCHAT_WORKER_DEBUG"), "1")

func debugLog(format string, args ...any) {
	if workerDebugEnabled {
		log.Printf(format, args...)
	}
}
