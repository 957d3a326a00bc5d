package main

import (
	"context"
	"net"
	"net/http"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"
)

const socket = "/tmp/backupd.socket"

// Warden wires configuration, data store and backup service together and
// exposes the healthcheck endpoint.
type Warden struct {
	config Config

	store  Store
	backup *BackupService

	running atomic.Bool
}

// ServeHTTP handles health check
func (w *Warden) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if w.running.Load() {
		writer.WriteHeader(http.StatusOK)
	} else {
		writer.WriteHeader(http.StatusNoContent)
	}
}

func (w *Warden) StartHealthcheckServer() {
	// start http server
	go func() {
		unixListener, err := net.Listen("unix", socket)
		if err != nil {
			log.Fatalf("failed to create socket: %v", err)
		}
		log.Fatal(http.Serve(unixListener, w))
	}()
}

func (w *Warden) Healthcheck() error {
	client := http.Client{
		Timeout: time.Millisecond * 100,
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socket)
			},
		},
	}

	response, err := client.Get("http://unix" + socket)
	if err != nil {
		return err
	}

	if response.StatusCode != http.StatusOK {
		return errors.New("backupd not ready")
	}

	return nil
}

// LoadConfig from environment
func (w *Warden) LoadConfig() error {
	log.Info("Load config")

	err := loadStruct(reflect.ValueOf(&w.config).Elem())
	if err != nil {
		return err
	}

	err = w.config.validate()
	if err != nil {
		return err
	}

	switch w.config.Database.Driver {
	case "sqlite":
		w.store = NewSQLiteStore(w.config.Database.SQLitePath)
	default:
		w.store = NewPostgresStore(w.config.Database)
	}

	w.backup = NewBackupService(w.config.Backup, w.store)
	return nil
}

// Prepare data store connection and backup directories.
func (w *Warden) Prepare(ctx context.Context) error {
	// start health check server
	w.StartHealthcheckServer()

	switch store := w.store.(type) {
	case *PostgresStore:
		log.Info("Wait for database connection")
		if err := store.WaitForConnection(ctx, time.Minute); err != nil {
			return err
		}
	case *SQLiteStore:
		if err := store.Connect(); err != nil {
			return err
		}
	}

	if err := w.backup.Prepare(); err != nil {
		return err
	}

	w.running.Store(true)

	return nil
}
