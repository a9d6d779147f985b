package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"snapdb/pkg/compaction"
	"snapdb/pkg/config"
	"snapdb/pkg/keys"
	"snapdb/pkg/store"
)

const usage = `usage: snapdb [flags] <command> [args]

commands:
  put <key> <value>   store value under key
  get <key>           print the value of key
  del <key>           delete key
  flush               write the memtable as a level 0 table
  compact             run one compaction pass
  stat                print the table layout

flags:
`

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to YAML config")
		dataDir    = flag.String("data", "", "data directory (overrides config)")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := initConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *dataDir != "" {
		cfg.DB.Path = *dataDir
	}
	initLogger(&cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	keyType, err := keys.ParseType(cfg.DB.KeyType)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	switch keyType {
	case keys.Number:
		err = run(ctx, cfg, keys.NumberCodec, flag.Args())
	default:
		err = run(ctx, cfg, keys.StringCodec, flag.Args())
	}
	if err != nil {
		slog.Error("command failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func run[K any](ctx context.Context, cfg config.Config, codec keys.Codec[K], args []string) (err error) {
	db, err := store.Open(cfg.DB, codec, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	key := func(i int) (K, error) {
		var zero K
		if len(args) <= i {
			return zero, fmt.Errorf("%s: missing argument", args[0])
		}
		return codec.Parse(args[i])
	}

	switch args[0] {
	case "put":
		k, err := key(1)
		if err != nil {
			return err
		}
		if len(args) < 3 {
			return fmt.Errorf("put: missing value")
		}
		return db.PutString(k, args[2])

	case "get":
		k, err := key(1)
		if err != nil {
			return err
		}
		v, found, err := db.GetString(k)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("key %s not found", codec.Format(k))
		}
		fmt.Println(v)
		return nil

	case "del":
		k, err := key(1)
		if err != nil {
			return err
		}
		return db.Delete(k)

	case "flush":
		return db.Flush()

	case "compact":
		if err := db.Flush(); err != nil {
			return err
		}
		rep, err := db.Compact(ctx)
		if err != nil {
			return err
		}
		return printJSON(rep)

	case "stat":
		stats, err := db.Stats()
		if err != nil {
			return err
		}
		for _, st := range stats {
			fmt.Printf("L%d\tfiles=%d\tbytes=%d\tbudget=%d\n", st.Level, st.Files, st.Bytes, st.Budget)
		}
		fmt.Printf("memtable\tkeys=%d\n", db.MemtableLen())
		return nil

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printJSON(rep compaction.Report) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
