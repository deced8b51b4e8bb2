package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ulsgks/webserv/internal/config"
	"github.com/ulsgks/webserv/internal/logging"
	"github.com/ulsgks/webserv/internal/server"
)

func usage() {
	prog := os.Args[0]
	fmt.Printf("Usage: %s [options] [config_file]\n", prog)
	fmt.Println("Options:")
	fmt.Println("  -c <file>   Specify configuration file")
	fmt.Println("  -v          Enable verbose logging")
	fmt.Println("  -h          Display this help message")
	fmt.Println()
	fmt.Println("Config file can be specified either with -c flag or as a positional argument.")
	fmt.Println("If not specified, default configuration will be used.")
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("webserv", flag.ContinueOnError)
	fs.Usage = usage
	configFile := fs.String("c", "", "configuration file")
	verbose := fs.Bool("v", false, "verbose logging")
	help := fs.Bool("h", false, "show help")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}
	if *help {
		usage()
		return 0
	}

	positional := fs.Args()
	switch {
	case len(positional) > 1:
		fmt.Fprintln(os.Stderr, "Error: Too many arguments")
		usage()
		return 1
	case len(positional) == 1 && *configFile != "":
		fmt.Fprintln(os.Stderr, "Error: Config file specified both with -c flag and as positional argument")
		usage()
		return 1
	case len(positional) == 1:
		*configFile = positional[0]
	}

	if *verbose {
		logging.SetLevel(logging.DEBUG)
	} else {
		logging.SetLevel(logging.INFO)
	}

	var cfg *config.Config
	if *configFile == "" {
		logging.Info("no configuration file given, using built-in defaults")
		cfg = config.Default()
	} else {
		loaded, err := config.Load(*configFile)
		if err != nil {
			logging.Fatalf("%v", err)
			return 1
		}
		cfg = loaded
	}

	srv, err := server.New(cfg)
	if err != nil {
		logging.Fatalf("startup failed: %v", err)
		return 1
	}
	if err := srv.Run(); err != nil {
		logging.Fatalf("%v", err)
		return 1
	}
	return 0
}
