package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/linkctl/internal/logging"
	"github.com/danmuck/linkctl/internal/node"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to the node config file (TOML)")
	tablesPath := flag.String("tables", "", "desired-state tables file, overrides the config")
	name := flag.String("name", "", "node name, overrides the config")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg := node.DefaultConfig()
	if *configPath != "" {
		loaded, err := loadNodeConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "linkctl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *tablesPath != "" {
		cfg.TablesPath = *tablesPath
	}
	if *name != "" {
		cfg.Name = *name
	}

	cfg.HTTP.Version = version

	svc, err := node.NewService(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "linkctl: %v\n", err)
		os.Exit(1)
	}
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "linkctl: %v\n", err)
		os.Exit(1)
	}
}
