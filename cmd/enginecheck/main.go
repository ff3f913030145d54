package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/park285/cheese-duel/internal/chess/uci"
	appcfg "github.com/park285/cheese-duel/internal/config"
	"github.com/park285/cheese-duel/internal/msgcat"
	"github.com/park285/cheese-duel/internal/obslog"
	"github.com/park285/cheese-duel/internal/rules"
)

func main() {
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline for loading and the first search")
	depth := flag.Int("depth", 8, "search depth for the test move")
	flag.Parse()

	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	texts, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		log.Fatalf("messages error: %v", err)
	}

	for _, src := range cfg.Sources {
		log.Printf("candidate %s", src)
	}

	line, err := checkEngine(cfg, *timeout, *depth, texts)
	if err != nil {
		fmt.Println(texts.Text("enginecheck.failed", map[string]any{"Reason": err.Error()}))
		os.Exit(1)
	}
	fmt.Println(line)
}

// checkEngine loads the first working candidate and asks it for an opening move.
func checkEngine(cfg *appcfg.AppConfig, timeout time.Duration, depth int, texts *msgcat.Catalog) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	loader := uci.NewLoader(&uci.DefaultDialer{Fetcher: uci.NewFetcher(cfg.DownloadDir)}, obslog.Named("uci"))
	started := time.Now()
	session, err := loader.Load(ctx, cfg.Sources, cfg.EngineOptions())
	if err != nil {
		return "", err
	}
	defer func() { _ = session.Terminate() }()
	took := time.Since(started).Round(time.Millisecond)

	if err := session.NewGame(ctx); err != nil {
		return "", err
	}
	mv, err := session.Search(ctx, rules.New().BoardStateToken(), depth)
	if err != nil {
		return "", err
	}
	return texts.Text("enginecheck.ok", map[string]any{
		"Source": session.Source().String(),
		"Took":   took,
		"Move":   uci.EncodeMoveToken(mv),
	}), nil
}
