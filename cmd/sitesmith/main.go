package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/vsavkov/sitesmith/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "runner":
		cmdRunner(os.Args[2:])
	case "migrate":
		cmdMigrate(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  sitesmith serve [--config <file.yaml>]")
	fmt.Fprintln(os.Stderr, "  sitesmith runner [--config <file.yaml>]")
	fmt.Fprintln(os.Stderr, "  sitesmith migrate [--config <file.yaml>]")
}

// loadConfig parses the optional --config flag, loads the file with
// environment overrides, and validates it for the given role.
func loadConfig(args []string, role config.Role) *config.Config {
	var path string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			path = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.Validate(role); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
}

// newLogger builds the process logger. An unknown level falls back to info
// so a typo never silences logging.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
