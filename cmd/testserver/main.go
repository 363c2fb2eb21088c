// testserver starts a ragserve API server with a canned index and a stub
// generator, so clients can be exercised without model credentials.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/ragserve/internal/app"
	"github.com/seantiz/ragserve/internal/backend"
	"github.com/seantiz/ragserve/internal/config"
	"github.com/seantiz/ragserve/internal/model"
	"github.com/seantiz/ragserve/internal/rank"
)

const stubBackendName = "stub"

// cannedIndex returns the same protocol fragments for every question.
type cannedIndex struct{}

func (cannedIndex) Retrieve(_ context.Context, _ string, k int) ([]model.Evidence, error) {
	ev := []model.Evidence{
		{Content: "NAME: Aave\nCATEGORY: Lending\nTVL: 12B", Distance: 0},
		{Content: "NAME: Compound Finance\nCATEGORY: Lending", Distance: 0.25},
		{Content: "NAME: Uniswap\nCATEGORY: Dexes", Distance: 0.9},
	}
	if k < len(ev) {
		ev = ev[:k]
	}
	return ev, nil
}

func (cannedIndex) Close() error { return nil }

// stubGenerator answers from sources when the question mentions lending and
// from knowledge otherwise, after a fixed delay.
type stubGenerator struct {
	delay time.Duration
}

func (s stubGenerator) Generate(ctx context.Context, p backend.Prompt) (string, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if strings.Contains(strings.ToLower(p.Question), "lending") {
		return rank.MarkerSources + " Aave and Compound are the largest lending protocols.", nil
	}
	return rank.MarkerKnowledge + " A blockchain is a shared append-only ledger.", nil
}

func (stubGenerator) Info() backend.Info {
	return backend.Info{Backend: stubBackendName, Model: "canned"}
}

func main() {
	cfg, err := config.Load(os.Getenv("RAGSERVE_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.DBPath = ":memory:"
	cfg.Cache.DBPath = ":memory:"
	cfg.Generator.Backend = stubBackendName
	logger := config.NewLogger(os.Stdout, cfg.Level())

	delay := 500 * time.Millisecond
	if v := os.Getenv("RAGSERVE_STUB_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("invalid RAGSERVE_STUB_DELAY: %v", err)
		}
		delay = d
	}

	reg := backend.NewRegistry()
	reg.Register(stubBackendName, func(context.Context, backend.Settings) (backend.Generator, error) {
		return stubGenerator{delay: delay}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg, logger, app.Parts{
		Retriever: cannedIndex{},
		Registry:  reg,
		Metrics:   prometheus.DefaultRegisterer,
	})
	if err != nil {
		log.Fatalf("failed to build service: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		log.Fatalf("failed to start: %v", err)
	}

	logger.Info("testserver: starting", "addr", cfg.ListenAddr, "mode", a.Router.Mode(), "delay", delay.String())
	if err := a.Server.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	cancel()
	_ = a.Close()
}
