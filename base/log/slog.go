package log

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

func setupSLog(level Severity) {
	handlerLogLevel := level.toSLogLevel()

	// Write to the global writer, if logging was started.
	var (
		out     io.Writer = os.Stdout
		noColor           = false
	)
	if GlobalWriter != nil {
		out = GlobalWriter
		noColor = !GlobalWriter.IsStdout()
	}

	logHandler := tint.NewHandler(out, &tint.Options{
		AddSource:  true,
		Level:      handlerLogLevel,
		TimeFormat: timeFormat,
		NoColor:    noColor,
	})

	// Set as default logger.
	slog.SetDefault(slog.New(logHandler))
	// Set actual log level.
	slog.SetLogLoggerLevel(handlerLogLevel)
}
