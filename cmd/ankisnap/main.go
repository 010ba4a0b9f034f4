package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kpauljoseph/ankisnap/internal/config"
	"github.com/kpauljoseph/ankisnap/pkg/logger"
	"github.com/kpauljoseph/ankisnap/pkg/utils"
)

const usage = `Usage: ankisnap [flags] <command> [args]

Commands:
  serve                          run the capture coordinator
  capture [-tab ID]              start a selection on a tab (default: active tab)
  decks                          list decks
  cards -deck NAME [-without-images]
                                 list cards of a deck
  select -deck NAME -card ID     choose the card captures are attached to
  clear                          clear the selected card
  guided start -deck NAME        queue every card of a deck without an image
  guided stop                    end guided mode, keeping the selected card
  guided status                  show guided mode progress
  pdfs -dir DIR                  list PDF pages usable as capture tabs
  version [-check]               print the version

Flags:
`

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to config file")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	debug := flag.Bool("debug", false, "enable debug mode with trace logging")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	log := logger.New(logger.WithPrefix("[ankisnap] "), logger.WithOutput(os.Stderr))
	log.SetVerbose(*verbose)
	if *debug {
		log.SetLevel(logger.LevelTrace)
	}
	defer log.Sync()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Error loading config: %v", err)
	}
	log.Debug("Using state file %s", cfg.StateFile)

	app := &app{cfg: cfg, log: log}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	if err := app.run(cmd, args); err != nil {
		log.Fatal("%s: %v", cmd, err)
	}
}

func defaultConfigPath() string {
	return filepath.Join(utils.GetDefaultStateDir(), "config.yaml")
}
