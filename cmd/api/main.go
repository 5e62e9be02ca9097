package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"timebill.org/internal/billing"
	"timebill.org/internal/config"
	"timebill.org/internal/httpapi"
	"timebill.org/internal/obs"
	"timebill.org/internal/pdf"
	"timebill.org/internal/reconcile"
	"timebill.org/internal/store/pg"
	"timebill.org/internal/syncer"
	"timebill.org/internal/tracker"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if cfg.AuditPath != "" {
		f, err := os.OpenFile(cfg.AuditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("open audit log: %v", err)
		}
		defer f.Close()
		obs.Logger().SetOutput(io.MultiWriter(os.Stdout, f))
	}

	companyRate, err := cfg.Billing.CompanyDefault()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Storage: Postgres when a DSN is set, in-memory otherwise.
	var (
		store   billing.Store
		admin   billing.ConfigAdmin
		sink    syncer.Sink
		history syncer.History
		probe   httpapi.ReadyProbe
		pgStore *pg.Store
	)
	if cfg.PGDSN != "" {
		pgStore, err = pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store, admin, sink, history = pgStore, pgStore, pgStore, pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Println("TIMEBILL_PG_DSN not set, using in-memory store")
		mem := billing.NewMemStore()
		store, admin, sink = mem, mem, mem
		history = syncer.NewMemHistory()
	}

	opts := []billing.CoreOption{}
	if companyRate != nil {
		opts = append(opts, billing.WithCompanyDefaultRate(*companyRate))
	}
	core := billing.NewCore(store, opts...)

	var runner *syncer.Runner
	if len(cfg.Billing.Instances) > 0 {
		runner = syncer.NewRunner(tracker.New(cfg.Billing.Instances), sink, history)
	}

	recon := &reconcile.Engine{
		Source:     store,
		Groups:     cfg.Billing.Reconciliation.Groups,
		Exclusions: cfg.Billing.Reconciliation.Exclusions,
	}

	api := httpapi.New(probe, version, httpapi.Deps{
		Billing:    core,
		Admin:      admin,
		Reconciler: recon,
		Runner:     runner,
		History:    history,
		Renderer:   &pdf.Renderer{CompanyName: "Timebill"},
		GetClient:  store.GetClient,
		AuthSecret: cfg.AuthSecret,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Sync runs stream events for as long as the trackers take.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting timebill-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
