package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

func main() {
	// handle special actions
	var action string
	if len(os.Args) > 1 {
		action = strings.ToLower(os.Args[1])
	}

	// handle health check early
	var warden Warden
	if action == "healthcheck" {
		err := warden.Healthcheck()
		if err != nil {
			log.Fatalf("check failed: %v", err)
		}
		os.Exit(0)
	}

	// verify works on published backups only, no config or store needed
	if action == "verify" {
		if len(os.Args) < 3 {
			log.Fatal("usage: backupd verify <backup-dir>")
		}
		verifyAction(os.Args[2])
		return
	}

	// load config
	err := warden.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// prepare warden
	err = warden.Prepare(context.Background())
	if err != nil {
		log.Fatal(err)
	}

	switch action {
	case "": // no action -> default cron mode
		break

	case "backup": // manual full backup
		runBackup(warden.backup, warden.backup.FullBackup)
		return

	case "incremental": // manual incremental backup
		runBackup(warden.backup, warden.backup.IncrementalBackup)
		return

	default:
		log.Fatal("unknown action")
		return
	}

	// start backup schedules
	err = warden.backup.StartSchedule()
	if err != nil {
		log.Fatal(err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c

	warden.backup.StopSchedule(time.Minute * 5)
}

func runBackup(service *BackupService, backup func(context.Context) (string, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), service.Config.Timeout())
	defer cancel()

	_, err := backup(ctx)
	if err != nil {
		if errors.Is(err, ErrNoChanges) {
			return
		}
		log.Fatal(err)
	}
}

// verifyAction verifies a published backup directory and prints the report.
// The backup class is detected from the directory layout.
func verifyAction(dir string) {
	var verifier Verifier

	var (
		ok     bool
		report *VerificationReport
	)
	if _, err := os.Stat(filepath.Join(dir, manifestName)); err == nil {
		ok, report = verifier.VerifyIncremental(dir)
	} else {
		ok, report = verifier.VerifyFull(dir, nil, nil)
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to encode report: %v", err)
	}
	os.Stdout.Write(append(encoded, '\n'))

	if !ok {
		os.Exit(1)
	}
}
