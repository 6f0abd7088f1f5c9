package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/veridocs/inspection-engine/internal/checkpoint"
	"github.com/veridocs/inspection-engine/internal/evaluate"
	"github.com/veridocs/inspection-engine/internal/httpapi"
	"github.com/veridocs/inspection-engine/internal/inspect"
	"github.com/veridocs/inspection-engine/internal/judge"
	"github.com/veridocs/inspection-engine/internal/llm"
	"github.com/veridocs/inspection-engine/internal/memo"
	"github.com/veridocs/inspection-engine/internal/store"
	"github.com/veridocs/inspection-engine/internal/telemetry"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	var (
		dbPath      = flag.String("db", getenv("DB_PATH", "./data/inspection.db"), "path to SQLite database file")
		answersDir  = flag.String("answers-dir", getenv("ANSWERS_DIR", "./data/answers"), "directory with per-document answer files")
		rulebookDir = flag.String("rulebook-dir", getenv("RULEBOOK_DIR", "./data/rulebooks"), "directory with schema_<id>.json rule files")
		pushURL     = flag.String("push-url", os.Getenv("PUSH_URL"), "optional endpoint receiving finished result batches")
		listen      = flag.String("listen", getenv("LISTEN_ADDR", ":8080"), "management API listen address")
		interval    = flag.Duration("poll-interval", 5*time.Second, "queue poll interval")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdown, err := telemetry.Setup(ctx, "inspectd", os.Getenv("OTLP_ENDPOINT"))
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	defer shutdown(context.Background())

	st, err := store.New(*dbPath)
	if err != nil {
		log.Fatalf("open store (%s): %v", *dbPath, err)
	}
	defer st.Close()

	caller, err := llm.NewAnthropicCallerFromEnv()
	if err != nil {
		log.Fatalf("llm: %v", err)
	}

	var memoiser *memo.Memoiser
	if url := os.Getenv("REDIS_URL"); url != "" {
		cache, err := memo.NewRedisCacheURL(ctx, url)
		if err != nil {
			log.Fatalf("redis (%s): %v", url, err)
		}
		defer cache.Close()
		memoiser = memo.New(cache, "inspect", 30*time.Minute)
	} else {
		log.Printf("REDIS_URL not set, snippet memoisation disabled")
	}

	chatdoc := judge.NewChatDocClient(judge.ChatDocConfig{
		BaseURL: getenv("CHATDOC_BASE_URL", "http://localhost:9090"),
		APIKey:  os.Getenv("CHATDOC_API_KEY"),
		Model:   getenv("CHATDOC_MODEL", "gpt-4o"),
	})

	evaluator := &evaluate.Evaluator{Integrity: judge.NewIntegrity(caller)}
	runner := judge.NewRunner(caller, chatdoc, memoiser, evaluator)

	inspector := inspect.NewInspector(
		st,
		&inspect.FileTreeSource{AnswersPath: func(doc *store.Document) string {
			return filepath.Join(*answersDir, "answers_"+strconv.FormatInt(doc.ID, 10)+".json")
		}},
		&inspect.FileCatalogueSource{Dir: *rulebookDir},
		evaluator,
		evaluate.DefaultRegistry(),
	).WithJudge(inspect.NewJudgeDispatcher(runner, st))
	if *pushURL != "" {
		inspector = inspector.WithSinks(inspect.NewHTTPSink(*pushURL, os.Getenv("PUSH_AUTH_TOKEN")))
	}

	apiSrv := &http.Server{Addr: *listen, Handler: httpapi.NewServer(st, checkpoint.NewReviewer(st))}
	go func() {
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server: %v", err)
		}
	}()
	defer apiSrv.Close()

	log.Printf("inspectd started (db=%s, rulebooks=%s, api=%s)", *dbPath, *rulebookDir, *listen)
	if err := run(ctx, st, inspector, *interval); err != nil && err != context.Canceled {
		log.Fatalf("inspectd: %v", err)
	}
	log.Println("inspectd stopped")
}

// run polls for pending documents and inspects them one at a time. A failed
// run is logged and retried on the next poll.
func run(ctx context.Context, st *store.Store, inspector *inspect.Inspector, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	tracer := telemetry.Tracer("inspectd")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		docs, err := st.PendingDocuments(ctx, 10)
		if err != nil {
			log.Printf("list pending documents: %v", err)
			continue
		}
		for _, doc := range docs {
			runCtx, span := tracer.Start(ctx, "inspect")
			results, err := inspector.Inspect(runCtx, doc.ID, doc.SchemaID, nil)
			if err != nil {
				span.RecordError(err)
				log.Printf("inspect document %d: %v", doc.ID, err)
			} else {
				log.Printf("inspected document %d: %s", doc.ID,
					summarise(results))
			}
			span.End()
		}
	}
}

func summarise(results []*evaluate.Result) string {
	var pass, fail, na int
	for _, res := range results {
		switch {
		case res.NotApplicable():
			na++
		case res.Compliant():
			pass++
		default:
			fail++
		}
	}
	return fmt.Sprintf("%d rules (%d compliant, %d non-compliant, %d n/a)", len(results), pass, fail, na)
}
