package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/baller70/tbfcontentmachineapp-sub003/internal/api"
	"github.com/baller70/tbfcontentmachineapp-sub003/internal/clients/ai"
	"github.com/baller70/tbfcontentmachineapp-sub003/internal/clients/dropbox"
	"github.com/baller70/tbfcontentmachineapp-sub003/internal/clients/late"
	"github.com/baller70/tbfcontentmachineapp-sub003/internal/config"
	"github.com/baller70/tbfcontentmachineapp-sub003/internal/coordinator"
	"github.com/baller70/tbfcontentmachineapp-sub003/internal/poller"
	"github.com/baller70/tbfcontentmachineapp-sub003/internal/processor"
	"github.com/baller70/tbfcontentmachineapp-sub003/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	var (
		addr    = flag.String("addr", cfg.Addr, "HTTP bind address")
		dbPath  = flag.String("db", cfg.DBPath, "SQLite DB path")
		workers = flag.Int("workers", cfg.Workers, "number of worker goroutines")
		poll    = flag.String("poll", cfg.PollEvery, "sweep cadence, cron or @every syntax")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	if err := poller.ValidateCadence(*poll); err != nil {
		log.Fatal().Err(err).Str("cadence", *poll).Msg("invalid poll cadence")
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", *dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	repo := store.NewSQLiteRepo(db)

	storage := dropbox.New(cfg.Dropbox.APIURL, cfg.Dropbox.ContentURL, cfg.Dropbox.Token, cfg.Dropbox.Timeout)
	gen := ai.New(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	pub := late.New(cfg.Late.BaseURL, cfg.Late.APIKey, cfg.Late.Timeout)

	proc := processor.New(repo, storage, gen, pub, log.Logger,
		processor.WithGenerateTimeout(cfg.OpenAI.Timeout))

	ctx, cancel := context.WithCancel(context.Background())
	coord := coordinator.New(proc, repo, *workers, cfg.QueueDepth, log.Logger)
	go coord.Run(ctx)

	p := poller.New(repo, proc, log.Logger)
	if err := p.Start(ctx, *poll); err != nil {
		log.Fatal().Err(err).Msg("start poller")
	}

	srv := &http.Server{Addr: *addr, Handler: api.NewServerWithDebug(repo, proc, coord, p, cfg.Debug)}
	go func() {
		log.Info().Str("addr", *addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
