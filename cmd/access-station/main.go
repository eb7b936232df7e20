// Gray Logic Access Station - badge reader front end.
//
// The station reads keystrokes from a wedge-mode badge scanner on its
// terminal, verifies each scanned credential offline against the issuer's
// public key, prints the decision and queues an access event in a local
// outbox that is shipped to the access server in the background.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/scanner"
	"github.com/nerrad567/gray-logic-access/internal/station"
	"github.com/nerrad567/gray-logic-access/migrations"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	serviceName       = "access-station"
	defaultConfigPath = "configs/station.yaml"

	// shippedRetention is how long delivered events stay in the outbox.
	shippedRetention = 7 * 24 * time.Hour
	submitTimeout    = 15 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateStation(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	key, err := credential.LoadPublicKeyFile(cfg.Station.PublicKeyFile)
	if err != nil {
		return fmt.Errorf("loading issuer key: %w", err)
	}

	// A raw terminal delivers each scanner keystroke as it arrives. Output
	// processing is off in raw mode, so writes need explicit CRLF.
	var out io.Writer = os.Stdout
	var logOut io.Writer = os.Stderr
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		state, rawErr := term.MakeRaw(fd)
		if rawErr != nil {
			return fmt.Errorf("entering raw mode: %w", rawErr)
		}
		defer term.Restore(fd, state) //nolint:errcheck // best effort on exit
		out = crlfWriter{os.Stdout}
		logOut = crlfWriter{os.Stderr}
	}

	log := logging.NewWithWriter(logOut, cfg.Logging, serviceName, version)
	log.Info("starting Gray Logic Access Station",
		"version", version,
		"commit", commit,
		"build_date", date,
		"station_id", cfg.Station.ID,
	)

	db, err := database.Open(ctx, database.Config{
		Driver:      database.DriverPure,
		Path:        cfg.Station.OutboxPath,
		WALMode:     true,
		BusyTimeout: cfg.Database.BusyTimeout,
		Migrations:  migrations.Station,
	})
	if err != nil {
		return fmt.Errorf("opening outbox: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing outbox", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running outbox migrations: %w", migrateErr)
	}

	outbox := station.NewOutbox(db.DB)
	if removed, purgeErr := outbox.PurgeShipped(ctx, time.Now().Add(-shippedRetention)); purgeErr != nil {
		log.Warn("outbox purge failed", "error", purgeErr)
	} else if removed > 0 {
		log.Info("purged shipped outbox entries", "removed", removed)
	}
	if pending, shipped, countErr := outbox.Counts(ctx); countErr == nil {
		log.Info("outbox opened", "path", cfg.Station.OutboxPath, "pending", pending, "shipped", shipped)
	}

	userAgent := serviceName + "/" + version
	st := station.New(station.Config{
		ID:       cfg.Station.ID,
		Key:      key,
		Issuer:   cfg.Station.Issuer,
		Audience: cfg.Station.Audience,
		Scanner: scanner.Config{
			GapThreshold: cfg.ScanGapThreshold(),
			Terminator:   scanner.ParseKey(cfg.Scanner.Terminator),
		},
		UserAgent: userAgent,
	}, outbox, log)

	client := station.NewClient(cfg.Station.ServerURL, cfg.Station.ServiceToken, userAgent, submitTimeout)
	shipper := station.NewShipper(outbox, client, time.Duration(cfg.Station.ShipInterval)*time.Second, cfg.Station.BatchSize, log)
	shipper.Start(ctx)
	defer shipper.Stop()

	fmt.Fprintf(out, "station %s ready, scan a badge (Ctrl-C to exit)\n", cfg.Station.ID)

	// Console.Run only notices cancellation between reads, so a signal
	// must not wait on a blocked stdin.
	done := make(chan error, 1)
	go func() {
		done <- station.NewConsole(st, out).Run(ctx, os.Stdin)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
	}

	log.Info("station stopped")
	return err
}

func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// crlfWriter translates LF to CRLF for a terminal in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	buf := make([]byte, 0, len(p)+8)
	for _, b := range p {
		if b == '\n' {
			buf = append(buf, '\r')
		}
		buf = append(buf, b)
	}
	if _, err := c.w.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}
