package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/subcommands"
	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFile  = flag.String("log-file", "", "Log to this file instead of stderr; the file is rotated at 100 MB")
)

// newLogger builds the logger selected by the global flags.
func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", *logLevel, err)
	}
	var w io.Writer = os.Stderr
	if *logFile != "" {
		w = &lumberjack.Logger{
			Filename:   *logFile,
			MaxSize:    100,
			MaxBackups: 3,
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&inspectCmd{}, "")
	subcommands.Register(&buildCmd{}, "")
	subcommands.Register(&convertCmd{}, "")
	subcommands.Register(&exportCmd{}, "index")
	subcommands.Register(&importCmd{}, "index")
	subcommands.Register(&serveCmd{}, "")
	subcommands.Register(&renderCmd{}, "")

	flag.Parse()
	logger, err := newLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(subcommands.ExitUsageError))
	}
	slog.SetDefault(logger)
	os.Exit(int(subcommands.Execute(context.Background(), logger)))
}

// loggerArg returns the logger passed to subcommands.Execute.
func loggerArg(args []any) *slog.Logger {
	if len(args) > 0 {
		if logger, ok := args[0].(*slog.Logger); ok {
			return logger
		}
	}
	return slog.Default()
}
