// Command recall is a maintenance and inspection tool for a recall data
// directory: add and search memories, run consolidation and eviction,
// and rebuild or snapshot the vector index.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/commercekit/recall"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file (optional, env vars by default)")
	dsn        = flag.String("dsn", "", "Storage DSN (overrides config)")
	limit      = flag.Int("limit", 10, "Result limit for search")
	minSim     = flag.Float64("min-similarity", 0.5, "Similarity floor for search")
	memType    = flag.String("type", "", "Memory type filter for search (episodic or semantic)")
	owner      = flag.String("owner", "", "Owner filter for search and consolidate")
	timeout    = flag.Duration("timeout", 30*time.Second, "Operation timeout")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: recall [flags] <command> [args]

Commands:
  add <type> <content>   store a memory (type: episodic or semantic)
  search <query>         search memories
  get <id>               print one memory
  delete <id>            delete a memory
  consolidate            promote working memory into durable memories
  evict                  run one eviction pass
  rebuild                rebuild the vector index from the record store
  snapshot               write an index snapshot
  stats                  print store and index counters

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("failed to load config", "err", err)
	}
	if *dsn != "" {
		cfg.Storage.DSN = *dsn
	}

	svc, err := recall.Open(cfg)
	if err != nil {
		log.Fatal("failed to open recall", "err", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, svc, flag.Args()); err != nil {
		svc.Shutdown(context.Background())
		log.Fatal("command failed", "err", err)
	}
	if err := svc.Shutdown(context.Background()); err != nil {
		log.Fatal("shutdown failed", "err", err)
	}
}

func loadConfig() (*recall.Config, error) {
	if *configPath != "" {
		return recall.LoadConfigFile(*configPath)
	}
	return recall.LoadConfig(), nil
}

func run(ctx context.Context, svc *recall.Service, args []string) error {
	switch cmd := args[0]; cmd {
	case "add":
		if len(args) < 3 {
			return fmt.Errorf("usage: add <type> <content>")
		}
		rec, err := svc.Create(ctx, recall.CreateInput{
			Content: args[2],
			Type:    recall.MemoryType(args[1]),
		})
		if err != nil {
			return err
		}
		fmt.Println(rec.ID)
		return nil

	case "search":
		if len(args) < 2 {
			return fmt.Errorf("usage: search <query>")
		}
		results, err := svc.Search(ctx, args[1], recall.SearchOptions{
			Limit:         *limit,
			MinSimilarity: *minSim,
			Type:          recall.MemoryType(*memType),
			Owner:         *owner,
		})
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%.4f  %s  %s\n", r.Similarity, r.Record.ID, r.Record.Content)
		}
		return nil

	case "get":
		if len(args) < 2 {
			return fmt.Errorf("usage: get <id>")
		}
		rec, err := svc.Get(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(rec)

	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: delete <id>")
		}
		return svc.Delete(ctx, args[1])

	case "consolidate":
		sum, err := svc.Consolidate(ctx, *owner)
		if err != nil {
			return err
		}
		return printJSON(sum)

	case "evict":
		rep, err := svc.Evict(ctx)
		if err != nil {
			return err
		}
		return printJSON(rep)

	case "rebuild":
		return svc.RebuildIndex(ctx)

	case "snapshot":
		return svc.SaveSnapshot()

	case "stats":
		st, err := svc.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(st)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
