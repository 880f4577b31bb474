// Package app wires the gateway together and runs it until the context
// ends.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alfianX/crossgate-gw/config"
	"github.com/alfianX/crossgate-gw/internal/filestore"
	"github.com/alfianX/crossgate-gw/internal/handler"
	"github.com/alfianX/crossgate-gw/internal/increment"
	"github.com/alfianX/crossgate-gw/internal/ingest"
	"github.com/alfianX/crossgate-gw/internal/keybind"
	"github.com/alfianX/crossgate-gw/internal/mq"
	"github.com/alfianX/crossgate-gw/internal/publish"
	"github.com/alfianX/crossgate-gw/internal/repo"
	"github.com/alfianX/crossgate-gw/internal/session"
	"github.com/alfianX/crossgate-gw/internal/transport"
	"github.com/alfianX/crossgate-gw/pkg/iso"
	"github.com/alfianX/crossgate-gw/pkg/license"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	IdleSweepInterval = 15 * time.Second
	ShutdownTimeout   = 10 * time.Second
)

// CheckLicense verifies key against the host volume serial.
func CheckLicense(key string) error {
	vol, err := license.HostVolume()
	if err != nil {
		return fmt.Errorf("license -> read volume serial: %w", err)
	}
	return license.Check(key, vol, time.Now())
}

func publishSource(cnf config.Config, db *gorm.DB, log *logrus.Logger) (publish.Source, error) {
	if cnf.PublishFile == "" {
		return publish.NewDBSource(db), nil
	}
	src, err := publish.LoadStaticFile(cnf.PublishFile)
	if err != nil {
		return nil, err
	}
	log.Infof("app -> static publish table %s", cnf.PublishFile)
	return src, nil
}

func loadSchema(cnf config.Config) (*iso.Schema, error) {
	if cnf.SchemaFile == "" {
		return iso.DefaultSchema()
	}
	return iso.LoadSchemaFile(cnf.SchemaFile)
}

// Run starts every component and blocks until ctx ends or the TCP server
// fails. Shutdown stops intake first, drains the ingestion pipeline and
// flushes pending registry writes before the stores close.
func Run(ctx context.Context, cnf config.Config, log *logrus.Logger) error {
	if cnf.LicenseKey != "" {
		if err := CheckLicense(cnf.LicenseKey); err != nil {
			return err
		}
		log.Info("app -> license ok")
	}

	db, err := repo.Open(cnf.DBDriver, cnf.Database, cnf.Debug != 0)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(db); err != nil {
			log.Errorf("app -> close database: %v", err)
		}
	}()
	if cnf.DBAutoMigrate {
		if err := repo.Migrate(db); err != nil {
			return fmt.Errorf("app -> migrate: %w", err)
		}
	}

	source, err := publishSource(cnf, db, log)
	if err != nil {
		return err
	}
	store := session.NewGormStore(db)
	events := session.NewEventRecorder(store, log)
	registry := session.NewRegistry(store, source, log, session.WithEvents(events))

	n, err := registry.Load(ctx)
	if err != nil {
		return fmt.Errorf("app -> load registry: %w", err)
	}
	counts, err := repo.MsgBoxUnreadCounts(ctx, db)
	if err != nil {
		return fmt.Errorf("app -> load unread counts: %w", err)
	}
	registry.SetUnread(counts)
	log.Infof("app -> %d terminals loaded, %d with unread messages", n, len(counts))

	schema, err := loadSchema(cnf)
	if err != nil {
		return err
	}

	broker := mq.NewClient(cnf.AmqpURL, log)
	if err := broker.Connect(ctx); err != nil {
		return fmt.Errorf("app -> connect broker: %w", err)
	}
	defer func() {
		if err := broker.Close(); err != nil {
			log.Errorf("app -> close broker: %v", err)
		}
	}()

	dead, err := ingest.OpenDeadLetter(cnf.DeadLetterDir, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := dead.Close(); err != nil {
			log.Errorf("app -> close dead letter store: %v", err)
		}
	}()
	if pending, err := dead.Count(); err == nil && pending > 0 {
		log.Warnf("app -> %d records waiting in the dead letter store", pending)
	}

	pipeline := ingest.NewPipeline(ingest.Config{
		BatchSize:     cnf.ConsumeBatchSize,
		FlushInterval: cnf.ConsumeFlushInterval,
		MaxAttempts:   cnf.ConsumeMaxAttempts,
	}, ingest.NewGormWriter(db), dead, log)

	h, err := handler.NewHandler(handler.Options{
		Codec:       iso.NewCodec(schema),
		Registry:    registry,
		Events:      events,
		Source:      source,
		Files:       filestore.New(cnf.FileRoot),
		MsgBox:      handler.NewGormMsgBox(db),
		Increment:   increment.NewService(increment.NewGormLog(db), log),
		Keys:        keybind.NewService(keybind.NewGormPool(db), log),
		Data:        broker,
		ReadTimeout: cnf.ReadTimeout(),
		Log:         log,
	})
	if err != nil {
		return err
	}
	server, err := transport.NewTCP(log, cnf, h)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := session.NewScheduler(runCtx, log)
	if err := sched.RegisterRegistryJobs(registry, events); err != nil {
		return err
	}
	if idle := cnf.IdleDuration(); idle > 0 {
		err := sched.Every(IdleSweepInterval, "idle-sweep", func(context.Context) {
			if n := h.Conns().SweepIdle(time.Now(), idle); n > 0 {
				log.Infof("app -> closed %d idle connections", n)
			}
		})
		if err != nil {
			return err
		}
	}
	sched.Start()

	var wg sync.WaitGroup
	background := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("app -> %s stopped: %v", name, err)
				cancel()
			}
		}()
	}
	background("pipeline", func() error { return pipeline.Run(runCtx) })
	background("data consumer", func() error { return broker.ConsumeData(runCtx, pipeline, cnf.ConsumeBatchSize) })
	background("event consumer", func() error { return broker.ConsumeEvents(runCtx, mq.NewEventHandler(registry, log)) })

	serveErr := server.Run(runCtx)
	cancel()
	wg.Wait()

	shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer done()
	sched.Stop(shutdownCtx)
	if err := registry.FlushActivity(shutdownCtx); err != nil {
		log.Errorf("app -> final activity flush: %v", err)
	}
	if err := events.Flush(shutdownCtx); err != nil {
		log.Errorf("app -> final event flush: %v", err)
	}

	st := pipeline.Stats()
	log.Infof("app -> stopped, ingested %d, requeued %d, dead lettered %d", st.Committed, st.Requeued, st.DeadLettered)

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}
