package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veridocs/inspection-engine/internal/checkpoint"
	"github.com/veridocs/inspection-engine/internal/evaluate"
	"github.com/veridocs/inspection-engine/internal/interdoc"
	"github.com/veridocs/inspection-engine/internal/judge"
	"github.com/veridocs/inspection-engine/internal/llm"
	"github.com/veridocs/inspection-engine/internal/memo"
	"github.com/veridocs/inspection-engine/internal/store"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// judge-run executes the live check points against one uploaded document
// and persists a judgment row per check point. Snippet extraction happens
// once per clause; a failed extraction fails every check point of that
// clause without stopping the run.
func main() {
	var (
		dbPath   = flag.String("db", getenv("DB_PATH", "./data/inspection.db"), "path to SQLite database file")
		docID    = flag.Int64("doc", 0, "document ID (required)")
		scenario = flag.String("scenario", "", "limit check points to one scenario tag")
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
		memoiser = memo.New(cache, "judge", 30*time.Minute)
	}
	chatdoc := judge.NewChatDocClient(judge.ChatDocConfig{
		BaseURL: getenv("CHATDOC_BASE_URL", "http://localhost:9090"),
		APIKey:  os.Getenv("CHATDOC_API_KEY"),
		Model:   getenv("CHATDOC_MODEL", "gpt-4o"),
	})
	evaluator := &evaluate.Evaluator{Integrity: judge.NewIntegrity(caller)}
	runner := judge.NewRunner(caller, chatdoc, memoiser, evaluator)

	cps, err := st.ActiveCheckPoints(ctx, *scenario)
	if err != nil {
		log.Fatalf("load check points: %v", err)
	}
	if len(cps) == 0 {
		log.Printf("no live check points for document %d", doc.ID)
		return
	}
	ids := make([]int64, len(cps))
	for i, cp := range cps {
		ids[i] = cp.ID
	}
	if err := st.InitJudgments(ctx, doc.ID, ids); err != nil {
		log.Fatalf("init judgments: %v", err)
	}

	orderNames := map[int64]string{}
	orderName := func(orderID int64) string {
		if name, ok := orderNames[orderID]; ok {
			return name
		}
		order, err := st.LawOrderByID(ctx, orderID)
		if err != nil {
			log.Printf("load law order %d: %v", orderID, err)
			orderNames[orderID] = ""
			return ""
		}
		orderNames[orderID] = order.Name
		return order.Name
	}

	var templates []*checkpoint.CheckPoint
	byClause := map[int64][]*checkpoint.CheckPoint{}
	for _, cp := range cps {
		if cp.IsTemplate() {
			templates = append(templates, cp)
		} else {
			byClause[cp.ClauseID] = append(byClause[cp.ClauseID], cp)
		}
	}

	saved := 0
	if len(templates) > 0 {
		idoc, err := interdoc.OpenArchive(doc.Interdoc)
		if err != nil {
			log.Fatalf("open interdoc (%s): %v", doc.Interdoc, err)
		}
		reader := interdoc.NewReader(idoc)
		for _, cp := range templates {
			st.SetJudgeStatus(ctx, doc.ID, cp.ID, judge.StatusDoing)
			judgment := runner.JudgeTemplate(ctx, cp, orderName(cp.OrderID), reader)
			judgment.FID = doc.ID
			if err := st.SaveJudgment(ctx, doc.ID, judgment); err != nil {
				log.Printf("save judgment for check point %d: %v", cp.ID, err)
				continue
			}
			saved++
		}
	}

	for clauseID, group := range byClause {
		clause, err := st.ClauseByID(ctx, clauseID)
		if err != nil {
			log.Printf("load clause %d: %v", clauseID, err)
			failGroup(ctx, st, doc.ID, group, nil)
			continue
		}
		snippets, err := runner.ExtractSnippets(ctx, doc.UploadID, clause)
		if err != nil {
			log.Printf("extract snippets for clause %d: %v", clauseID, err)
			failGroup(ctx, st, doc.ID, group, snippetTexts(snippets))
			continue
		}
		for _, cp := range group {
			st.SetJudgeStatus(ctx, doc.ID, cp.ID, judge.StatusDoing)
			judgment := runner.JudgeCheckPoint(ctx, cp, orderName(cp.OrderID), snippets)
			judgment.FID = doc.ID
			if err := st.SaveJudgment(ctx, doc.ID, judgment); err != nil {
				log.Printf("save judgment for check point %d: %v", cp.ID, err)
				continue
			}
			saved++
		}
	}
	log.Printf("judged document %d: %d/%d check points saved", doc.ID, saved, len(cps))
}

func failGroup(ctx context.Context, st *store.Store, fid int64, group []*checkpoint.CheckPoint, contents []string) {
	ids := make([]int64, len(group))
	for i, cp := range group {
		ids[i] = cp.ID
	}
	if err := st.FailJudgments(ctx, fid, ids, contents); err != nil {
		log.Printf("fail judgments: %v", err)
	}
}

func snippetTexts(snippets []judge.Snippet) []string {
	var out []string
	for _, sn := range snippets {
		out = append(out, sn.Text)
	}
	return out
}
