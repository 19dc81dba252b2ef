package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-gacha/internal/accounts"
	"github.com/celerix-dev/celerix-gacha/internal/app"
	"github.com/celerix-dev/celerix-gacha/internal/config"
	"github.com/celerix-dev/celerix-gacha/internal/logging"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		config.Exitf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		config.Exitf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	command := strings.ToLower(os.Args[1])
	args := os.Args[2:]

	switch command {
	case "sync":
		if len(args) < 1 {
			log.Fatal("Usage: celerix-gacha sync <config.json> [user]")
		}
		user := ""
		if len(args) > 1 {
			user = args[1]
		}
		if !a.Runner.RunSync(ctx, args[0], user) {
			a.Close()
			os.Exit(1)
		}
		fmt.Println("OK")

	case "sync-all":
		s, err := a.Scheduler(logger)
		if err != nil {
			log.Fatal(err)
		}
		sum, err := s.RunAll(ctx)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(sum)
		if sum.Failed > 0 {
			a.Close()
			os.Exit(1)
		}

	case "import":
		if len(args) < 3 {
			log.Fatal("Usage: celerix-gacha import <user> <account> <export.json>")
		}
		f, err := os.Open(args[2])
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		stats, err := a.Ledgers.Import(args[0], args[1], f)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(stats)

	case "show":
		if len(args) < 2 {
			log.Fatal("Usage: celerix-gacha show <user> <account>")
		}
		meta, err := a.Ledgers.LoadMetadata(args[0], args[1])
		if err != nil {
			log.Fatal(err)
		}
		printJSON(meta)

	case "accounts":
		list, err := a.Layout.Discover()
		if err != nil {
			log.Fatal(err)
		}
		keys := make([]string, 0, len(list))
		for _, acc := range list {
			keys = append(keys, acc.Key())
		}
		printJSON(keys)

	case "runs":
		if len(args) < 2 {
			log.Fatal("Usage: celerix-gacha runs <user> <account> [limit]")
		}
		limit := 0
		if len(args) > 2 {
			if limit, err = strconv.Atoi(args[2]); err != nil {
				log.Fatalf("invalid limit %q", args[2])
			}
		}
		runs, err := a.Journal.Recent(ctx, accounts.ResolveUser(args[0]), args[1], limit)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(runs)

	case "encrypt":
		if len(args) < 1 {
			log.Fatal("Usage: celerix-gacha encrypt <config.json>")
		}
		// Loading rewrites a plaintext password in encrypted form.
		if _, err := a.Vault.Load(args[0]); err != nil {
			log.Fatal(err)
		}
		fmt.Println("OK")

	case "next":
		s, err := a.Scheduler(logger)
		if err != nil {
			log.Fatal(err)
		}
		s.Start()
		next, err := s.NextRun()
		_ = s.Shutdown()
		if err != nil {
			log.Fatal(err)
		}
		logger.Info("next scheduled sync", zap.String("schedule", s.Schedule()), zap.Time("at", next))
		fmt.Println(next.Format("2006-01-02 15:04:05 -0700"))

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func printUsage() {
	fmt.Println("celerix-gacha - headhunting record sync")
	fmt.Println("\nUsage:")
	fmt.Println("  celerix-gacha sync <config.json> [user]")
	fmt.Println("  celerix-gacha sync-all")
	fmt.Println("  celerix-gacha import <user> <account> <export.json>")
	fmt.Println("  celerix-gacha show <user> <account>")
	fmt.Println("  celerix-gacha accounts")
	fmt.Println("  celerix-gacha runs <user> <account> [limit]")
	fmt.Println("  celerix-gacha encrypt <config.json>")
	fmt.Println("  celerix-gacha next")
	fmt.Println("\nEnvironment Variables:")
	fmt.Println("  GACHA_USERS_DIR       Root of the per-user account tree")
	fmt.Println("  GACHA_KEY_FILE        Credential encryption key")
	fmt.Println("  GACHA_JOURNAL_PATH    SQLite sync journal")
	fmt.Println("  GACHA_SCHEDULE        Cron schedule for sync-all (with seconds)")
}

func printJSON(v any) {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(bytes))
}
