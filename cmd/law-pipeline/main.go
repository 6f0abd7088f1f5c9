package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/veridocs/inspection-engine/internal/checkpoint"
	"github.com/veridocs/inspection-engine/internal/interdoc"
	"github.com/veridocs/inspection-engine/internal/lawsplit"
	"github.com/veridocs/inspection-engine/internal/llm"
	"github.com/veridocs/inspection-engine/internal/store"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// law-pipeline ingests one parsed law or template document: it splits the
// text into clauses, persists them, and queues each clause for check-point
// conversion. With --convert the synthesis runs inline instead of waiting
// for a worker.
func main() {
	var (
		dbPath    = flag.String("db", getenv("DB_PATH", "./data/inspection.db"), "path to SQLite database file")
		input     = flag.String("input", "", "parsed law document archive (required)")
		orderName = flag.String("order", "", "law order name (required)")
		lawName   = flag.String("law", "", "law file name (defaults to the order name)")
		template  = flag.Bool("template", false, "treat the document as a model contract instead of a statute")
		scenarios = flag.String("scenarios", "", "comma-separated scenario tags for the order")
		convert   = flag.Bool("convert", false, "synthesise check points inline after splitting")
	)
	flag.Parse()

	if *input == "" || *orderName == "" {
		log.Fatal("--input and --order are required")
	}
	if *lawName == "" {
		*lawName = *orderName
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(*dbPath)
	if err != nil {
		log.Fatalf("open store (%s): %v", *dbPath, err)
	}
	defer st.Close()

	doc, err := interdoc.OpenArchive(*input)
	if err != nil {
		log.Fatalf("open law document (%s): %v", *input, err)
	}

	var tags []string
	for _, tag := range strings.Split(*scenarios, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	order := &store.LawOrder{Name: *orderName, Template: *template, Scenarios: tags}
	if err := st.SaveLawOrder(ctx, order); err != nil {
		log.Fatalf("save law order: %v", err)
	}
	law := &store.Law{OrderID: order.ID, Name: *lawName, Hash: fileHash(*input), Current: true, Status: store.LawParsed}
	if err := st.SaveLaw(ctx, law); err != nil {
		log.Fatalf("save law: %v", err)
	}

	if err := st.SetLawStatus(ctx, law.ID, store.LawSplitting); err != nil {
		log.Fatalf("mark law splitting: %v", err)
	}
	var clauses []string
	if *template {
		clauses = lawsplit.SplitTemplate(interdoc.NewReader(doc))
	} else {
		clauses = lawsplit.SplitStatute(doc)
	}
	if len(clauses) == 0 {
		st.SetLawStatus(ctx, law.ID, store.LawSplitFail)
		log.Fatalf("no clauses found in %s", *input)
	}

	ids, err := st.ReplaceClauses(ctx, law, clauses, tags)
	if err != nil {
		st.SetLawStatus(ctx, law.ID, store.LawSplitFail)
		log.Fatalf("persist clauses: %v", err)
	}
	for _, id := range ids {
		if err := st.EnableClause(ctx, id); err != nil {
			log.Fatalf("enable clause %d: %v", id, err)
		}
	}
	log.Printf("law %q split into %d clauses (order=%d, law=%d)", *lawName, len(ids), order.ID, law.ID)

	if !*convert {
		return
	}
	caller, err := llm.NewAnthropicCallerFromEnv()
	if err != nil {
		log.Fatalf("llm: %v", err)
	}
	synth := checkpoint.NewSynthesiser(llm.NewExecutor(caller), st)
	for _, id := range ids {
		if err := synth.Convert(ctx, id, ""); err != nil {
			log.Printf("convert clause %d: %v", id, err)
		}
	}
}

func fileHash(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
