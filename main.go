package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go-metastore/config"
	"go-metastore/util/logger"
)

const usage = `usage: go-metastore [-config file] <command> [args]

commands:
  init [server]                          create an empty store
  create-table <db> <name> <pk> <shards> add a table and initialize its shards
  dump                                   print every metadata key
  check                                  verify the store and every table shard
`

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg := config.New()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fatal(err)
		}
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var err error
	switch args[0] {
		case "init":         err = initStore(ctx, cfg.Store, args[1:])
		case "create-table": err = createTable(ctx, cfg.Store, args[1:])
		case "dump":         err = dump(ctx, cfg.Store)
		case "check":        err = check(ctx, cfg.Store)
		default:
			flag.Usage()
			os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}
}

func fatal(val interface{}) {
	fmt.Fprintln(os.Stderr, val)
	os.Exit(1)
}
