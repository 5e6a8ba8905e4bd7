// Command scan ingests one QR payload, or reads a stored receipt back, without a broker.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/bootstrap"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/config"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/observability/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := ff.NewFlagSet("receipt-scan")
	var (
		userID    = fs.StringLong("user", "", "user the receipt belongs to")
		qrText    = fs.StringLong("qr", "", "raw QR text or URL; first argument when omitted")
		receiptID = fs.StringLong("get", "", "print a stored receipt instead of ingesting")
		events    = fs.BoolLong("events", "publish receipt.ingested after saving")
		logLevel  = fs.StringLong("log-level", "warn", "log level")
	)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("RECEIPT_SCAN")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	if *qrText == "" && len(fs.GetArgs()) > 0 {
		*qrText = fs.GetArgs()[0]
	}
	if *userID == "" || (*qrText == "" && *receiptID == "") {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	cfg.EventsEnabled = *events
	logger := logging.NewJSONLoggerTo(os.Stderr, "receipt-scan", *logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{Service: "receipt-scan"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer app.Close()

	id := *receiptID
	if id == "" {
		id, err = app.IngestUC.Ingest(ctx, *userID, *qrText)
		if existing, ok := domain.ExistingReceiptID(err); ok {
			fmt.Fprintf(os.Stderr, "already ingested as %s\n", existing)
			id, err = existing, nil
		}
		if err != nil {
			return report(err)
		}
	}

	receipt, err := app.GetUC.GetReceipt(ctx, *userID, id)
	if err != nil {
		return report(err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(receipt); err != nil {
		return report(err)
	}
	return 0
}

// report prints the public message; exit code 3 marks a rejected scan.
func report(err error) int {
	fmt.Fprintf(os.Stderr, "error: %s\n", domain.PublicMessage(err))
	if domain.ClassOf(err) == domain.ClassClient {
		return 3
	}
	return 1
}
