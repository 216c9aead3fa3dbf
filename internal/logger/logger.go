package logger

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"

	"scriptvm/pkg/color"
)

// Init initializes the logger. Without debug only warnings and errors are
// reported.
func Init(debug, noColor bool) {
	InitWriter(os.Stderr, debug, noColor)
}

// InitWriter initializes the logger on w
func InitWriter(w io.Writer, debug, noColor bool) {
	log.SetDefault(log.NewWithOptions(w,
		log.Options{
			ReportCaller:    debug,
			ReportTimestamp: false, // the host loop prints tick numbers instead
			TimeFormat:      time.RFC3339,
			Prefix:          "SCRIPTVM",
		}))

	log.SetLevel(log.WarnLevel)
	if debug {
		log.SetLevel(log.DebugLevel)
	}

	log.SetColorProfile(termenv.ANSI256)
	if noColor || !color.IsColorEnabled() {
		log.SetColorProfile(termenv.Ascii)
	}
}
