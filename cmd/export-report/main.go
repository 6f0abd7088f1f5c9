package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/veridocs/inspection-engine/internal/report"
	"github.com/veridocs/inspection-engine/internal/store"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	var (
		dbPath   = flag.String("db", getenv("DB_PATH", "./data/inspection.db"), "path to SQLite database file")
		docID    = flag.Int64("doc", 0, "document ID (required)")
		schemaID = flag.Int64("schema", 0, "schema ID (defaults to the document's schema)")
		out      = flag.String("out", "report.pdf", "output path (.pdf or .html)")
	)
	flag.Parse()
	if *docID == 0 {
		log.Fatal("--doc is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(*dbPath)
	if err != nil {
		log.Fatalf("open store (%s): %v", *dbPath, err)
	}
	defer st.Close()

	doc, err := st.DocumentByID(ctx, *docID)
	if err != nil {
		log.Fatalf("load document: %v", err)
	}
	if *schemaID == 0 {
		*schemaID = doc.SchemaID
	}
	results, err := st.Results(ctx, doc.ID, *schemaID, 0)
	if err != nil {
		log.Fatalf("load results: %v", err)
	}

	batch := &report.Batch{Document: doc, Results: results, Exported: time.Now()}

	var data []byte
	if strings.HasSuffix(*out, ".html") {
		html, err := report.HTML(batch)
		if err != nil {
			log.Fatalf("render html: %v", err)
		}
		data = []byte(html)
	} else {
		data, err = report.NewPDFRenderer().Render(ctx, batch)
		if err != nil {
			log.Fatalf("render pdf: %v", err)
		}
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		log.Fatalf("write %s: %v", *out, err)
	}
	log.Printf("exported %d results for document %d to %s", len(results), doc.ID, *out)
}
