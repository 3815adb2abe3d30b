package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/zoneshosting/RGSX-PC/internal/catalog"
	"github.com/zoneshosting/RGSX-PC/internal/config"
	"github.com/zoneshosting/RGSX-PC/internal/eventlog"
	"github.com/zoneshosting/RGSX-PC/internal/extract"
	"github.com/zoneshosting/RGSX-PC/internal/platform"
	"github.com/zoneshosting/RGSX-PC/internal/postproc"
	"github.com/zoneshosting/RGSX-PC/internal/scheduler"
	"github.com/zoneshosting/RGSX-PC/internal/server"
	"github.com/zoneshosting/RGSX-PC/internal/store"
	"github.com/zoneshosting/RGSX-PC/internal/tool"
	"github.com/zoneshosting/RGSX-PC/internal/transfer"
)

func main() {
	if err := config.LoadConfig("config.yml"); err != nil {
		log.Println("Note: config.yml not found or invalid, using defaults")
	}
	cfg := config.GlobalConfig

	if err := os.MkdirAll(cfg.RomsDir, 0755); err != nil {
		log.Fatalf("Failed to create roms directory: %v", err)
	}
	if err := os.MkdirAll(cfg.SaveDir, 0755); err != nil {
		log.Fatalf("Failed to create save directory: %v", err)
	}

	st := store.Open(cfg.HistoryPath())
	events, err := eventlog.Open(cfg.SaveDir)
	if err != nil {
		log.Fatalf("Failed to open event log: %v", err)
	}
	defer events.Close()
	st.SetEventSink(events)

	registry, err := platform.Load(cfg.SaveDir, cfg.RomsDir)
	if err != nil {
		log.Fatalf("Failed to load platform registry: %v", err)
	}

	runner := tool.ExecRunner{}
	post := &postproc.Processor{
		Store:      st,
		Runner:     runner,
		Tools:      cfg.Tools,
		VitaAppDir: cfg.VitaAppDir(),
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		Headers:    cfg.Headers,
	}
	extractor := &extract.Extractor{
		Store:  st,
		Post:   post,
		Runner: runner,
		Tools:  cfg.Tools,
	}
	downloads := &transfer.HTTPTransfer{
		Store:     st,
		Extractor: extractor,
		Registry:  registry,
		Client:    &http.Client{},
		Headers:   cfg.Headers,
		Attempts:  cfg.Retry.Attempts,
		Backoff:   time.Duration(cfg.Retry.Backoff),
	}
	sched := scheduler.New(st, downloads)

	srv := server.NewServer(fmt.Sprintf(":%d", cfg.Port), sched, st,
		catalog.New(cfg.GamesDir()), registry, events)
	if err := srv.Start(); err != nil {
		log.Fatal(err)
	}
}
