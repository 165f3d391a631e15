// Command server boots the upload-lifecycle HTTP API: it wires the
// configured storage backends, the scan-service adapter, the scheduler
// plugin and its orphan sweep, and the rest.Server, then runs until an OS
// signal asks it to stop.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/lib/pq"

	"github.com/defra/pafs-backend/config"
	"github.com/defra/pafs-backend/httpapi"
	"github.com/defra/pafs-backend/l3"
	"github.com/defra/pafs-backend/lifecycle"
	"github.com/defra/pafs-backend/lockstore"
	"github.com/defra/pafs-backend/messaging"
	"github.com/defra/pafs-backend/objectstore"
	"github.com/defra/pafs-backend/rest"
	"github.com/defra/pafs-backend/scanservice"
	"github.com/defra/pafs-backend/schedplugin"
	"github.com/defra/pafs-backend/uploads"
	"github.com/defra/pafs-backend/uploadstore"
	"github.com/defra/pafs-backend/validation"
	"github.com/defra/pafs-backend/vfs"
)

var logger = l3.Get()

// settings collects the environment-driven knobs for the process. Every
// value has a development-friendly default so the server runs out of the
// box against in-memory stores.
type settings struct {
	DBDriver   string // "memory" or "postgres"
	DatabaseDSN string

	StorageDriver string // "local" or "s3"
	StorageRoot   string // file:// root for the local driver
	StorageBucket string // default bucket for the s3 driver

	ScanServiceURL     string
	ScanServiceTimeout time.Duration

	AllowedMIMETypes []string
	MaxUploadBytes   int64

	ListenHost string
	ListenPort int

	OrphanSweepInterval  time.Duration
	OrphanSweepOlderThan time.Duration
}

func loadSettings() settings {
	timeoutSecs, _ := config.GetEnvAsInt("SCAN_SERVICE_TIMEOUT_SECONDS", 30)
	maxBytes, _ := config.GetEnvAsInt64("UPLOAD_MAX_BYTES", validation.DefaultMaxSize)
	port, _ := config.GetEnvAsInt("LISTEN_PORT", 8080)
	sweepMins, _ := config.GetEnvAsInt("ORPHAN_SWEEP_INTERVAL_MINUTES", 10)
	sweepAgeMins, _ := config.GetEnvAsInt("ORPHAN_SWEEP_OLDER_THAN_MINUTES", 60)

	mimeTypes := config.GetEnvAsString("UPLOAD_ALLOWED_MIME_TYPES", "application/pdf,image/png,image/jpeg")

	return settings{
		DBDriver:    strings.ToLower(config.GetEnvAsString("DB_DRIVER", "memory")),
		DatabaseDSN: config.GetEnvAsString("DATABASE_DSN", ""),

		StorageDriver: strings.ToLower(config.GetEnvAsString("STORAGE_DRIVER", "local")),
		StorageRoot:   config.GetEnvAsString("STORAGE_ROOT", "file:///tmp/pafs-uploads"),
		StorageBucket: config.GetEnvAsString("STORAGE_BUCKET", "pafs-uploads"),

		ScanServiceURL:     config.GetEnvAsString("SCAN_SERVICE_URL", "http://localhost:9000"),
		ScanServiceTimeout: time.Duration(timeoutSecs) * time.Second,

		AllowedMIMETypes: splitAndTrim(mimeTypes),
		MaxUploadBytes:   maxBytes,

		ListenHost: config.GetEnvAsString("LISTEN_HOST", "0.0.0.0"),
		ListenPort: port,

		OrphanSweepInterval:  time.Duration(sweepMins) * time.Minute,
		OrphanSweepOlderThan: time.Duration(sweepAgeMins) * time.Minute,
	}
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	cfg := loadSettings()

	uploadStore, lockStore, db, err := openStores(cfg)
	if err != nil {
		log.Fatalf("server: opening stores: %v", err)
	}
	if db != nil {
		defer db.Close()
	}

	objects, err := openObjectStore(cfg)
	if err != nil {
		log.Fatalf("server: opening object store: %v", err)
	}

	scanner, err := scanservice.NewHTTPAdapter(cfg.ScanServiceURL, cfg.ScanServiceTimeout)
	if err != nil {
		log.Fatalf("server: building scan-service adapter: %v", err)
	}

	rules := validation.NewRules(cfg.MaxUploadBytes, cfg.AllowedMIMETypes, nil)

	engine := uploads.New(uploads.Options{
		Store:     uploadStore,
		Scanner:   scanner,
		Objects:   objects,
		Rules:     rules,
		Messaging: messaging.GetManager(),
	})

	schedPlugin := schedplugin.New(schedplugin.Options{
		Store: lockStore,
	})
	if err := uploads.RegisterOrphanSweep(schedPlugin, engine, uploads.SweepOptions{
		OlderThan: cfg.OrphanSweepOlderThan,
	}); err != nil {
		log.Fatalf("server: registering orphan sweep: %v", err)
	}

	srvOpts := rest.DefaultSrvOptions()
	srvOpts.Id = "pafs-upload-api"
	srvOpts.ListenHost = cfg.ListenHost
	srvOpts.ListenPort = int16(cfg.ListenPort)

	srv, err := rest.NewServer(srvOpts)
	if err != nil {
		log.Fatalf("server: creating HTTP server: %v", err)
	}
	if err := httpapi.Register(srv, engine); err != nil {
		log.Fatalf("server: registering routes: %v", err)
	}
	if err := httpapi.RegisterScheduler(srv, schedPlugin); err != nil {
		log.Fatalf("server: registering scheduler introspection routes: %v", err)
	}

	httpComponent := &lifecycle.SimpleComponent{
		CompId:    "http-server",
		StartFunc: srv.Start,
		StopFunc:  srv.Stop,
	}

	manager := lifecycle.NewSimpleComponentManager()
	manager.Register(schedPlugin)
	manager.Register(httpComponent)
	// The HTTP server depends on the scheduler plugin (and the locks /
	// orphan-sweep it owns) so it starts only once that's up, and stops
	// first on the way down.
	if err := manager.AddDependency(httpComponent.Id(), schedPlugin.Id()); err != nil {
		log.Fatalf("server: %v", err)
	}

	if err := manager.StartAll(); err != nil {
		log.Fatalf("server: starting components: %v", err)
	}
	logger.InfoF("server: listening on %s:%d", cfg.ListenHost, cfg.ListenPort)

	waitForShutdown()

	logger.InfoF("server: shutting down")
	if err := manager.StopAll(); err != nil {
		logger.WarnF("server: error during shutdown: %v", err)
	}
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func openStores(cfg settings) (uploadstore.Store, lockstore.Store, *sql.DB, error) {
	if cfg.DBDriver == "postgres" {
		db, err := sql.Open("postgres", cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening postgres connection: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("pinging postgres: %w", err)
		}
		return uploadstore.NewPostgresStore(db), lockstore.NewPostgresStore(db), db, nil
	}
	return uploadstore.NewMemoryStore(), lockstore.NewMemoryStore(), nil, nil
}

func openObjectStore(cfg settings) (objectstore.Adapter, error) {
	if cfg.StorageDriver == "s3" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		return objectstore.NewS3Adapter(client), nil
	}

	root, err := url.Parse(cfg.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("parsing storage root %q: %w", cfg.StorageRoot, err)
	}
	return objectstore.NewLocalAdapter(vfs.GetManager(), root), nil
}
