// Command ingest runs the ingestion pipeline. It watches a directory
// for document JSON files and, when a NATS URL is given, also consumes
// documents from the ingest subject.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
	"github.com/CourseForgeAI/courseforge-mvp/engine/ingest"
	"github.com/CourseForgeAI/courseforge-mvp/engine/keyword"
	"github.com/CourseForgeAI/courseforge-mvp/engine/semantic"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/embed"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/ledger"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/metrics"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/resilience"
)

var met = metrics.New()

var (
	mFilesProcessed = met.Counter("courseforge_ingest_files_processed_total", "Document files processed")
	mFileErrors     = met.Counter("courseforge_ingest_file_errors_total", "Files that failed to parse or ingest")
	mLastScan       = met.Gauge("courseforge_ingest_last_scan_timestamp", "Epoch of last directory scan")
)

func main() {
	var (
		dataDir     = flag.String("dir", "/var/lib/courseforge/inbox", "directory to watch for document JSON files")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection  = flag.String("collection", "courseforge", "Qdrant collection name")
		blevePath   = flag.String("bleve", "/var/lib/courseforge/keyword.bleve", "keyword index path")
		ledgerPath  = flag.String("ledger", "/var/lib/courseforge/ledger.db", "ingest ledger path")
		embedURL    = flag.String("embed-url", "http://localhost:11434", "embedding endpoint base URL")
		embedModel  = flag.String("embed-model", "nomic-embed-text", "embedding model")
		embedDims   = flag.Int("dims", 768, "embedding dimensions")
		natsURL     = flag.String("nats", "", "NATS URL; empty disables the consumer")
		strategy    = flag.String("strategy", "semantic", "chunking strategy (semantic, fixed, sentence, paragraph)")
		interval    = flag.Duration("interval", 30*time.Second, "directory scan interval")
		metricsPort = flag.Int("metrics-port", 9091, "metrics HTTP port")
	)
	flag.Parse()

	met.ServeAsync(*metricsPort)

	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	vec, err := semantic.New(*qdrantAddr, log)
	if err != nil {
		log.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer vec.Close()
	existed, err := vec.EnsureCollection(ctx, *collection, semantic.CollectionConfig{
		VectorSize:    uint64(*embedDims),
		SparseEnabled: true,
	})
	if err != nil {
		log.Error("qdrant ensure collection failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Qdrant", "collection", *collection, "dims", *embedDims, "existed", existed)

	kw, err := keyword.Open(*blevePath)
	if err != nil {
		log.Error("keyword index open failed", "error", err)
		os.Exit(1)
	}
	defer kw.Close()

	led, err := ledger.Open(*ledgerPath)
	if err != nil {
		log.Error("ledger open failed", "error", err)
		os.Exit(1)
	}
	defer led.Close()

	embedder := embed.NewHTTP(embed.Options{
		BaseURL:    *embedURL,
		APIKey:     os.Getenv("COURSEFORGE_EMBED_KEY"),
		Model:      *embedModel,
		Dimensions: *embedDims,
		RPS:        5,
		Breaker:    resilience.NewBreaker(resilience.DefaultBreakerOpts),
	})
	log.Info("using embedding endpoint", "url", *embedURL, "model", *embedModel)

	opts := ingest.DefaultOptions(*collection)
	opts.Strategy = domain.Strategy(*strategy)
	pipeline := ingest.New(opts, ingest.Deps{
		Embedder: embedder,
		Vector:   vec,
		Keyword:  kw,
		Ledger:   led,
		Metrics:  met,
		Log:      log,
	})

	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL)
		if err != nil {
			log.Error("nats connect failed", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		sub, err := ingest.StartConsumer(nc, pipeline)
		if err != nil {
			log.Error("consumer start failed", "error", err)
			os.Exit(1)
		}
		defer sub.Unsubscribe()
		log.Info("consuming", "subject", ingest.IngestSubject)
	}

	os.MkdirAll(*dataDir, 0o755)
	log.Info("watching for documents", "dir", *dataDir, "interval", *interval)

	processed := make(map[string]bool)
	scan := func() { scanDir(ctx, *dataDir, pipeline, processed, log) }

	scan()
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-ticker.C:
			scan()
		}
	}
}

// scanDir ingests every unprocessed JSON file in dir. A file holds one
// document object or an array of them. Files with failures stay
// unmarked so the next scan retries them.
func scanDir(ctx context.Context, dir string, pipeline *ingest.Pipeline, processed map[string]bool, log *slog.Logger) {
	mLastScan.Set(time.Now().Unix())
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Error("readdir failed", "dir", dir, "error", err)
		return
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || e.Name()[0] == '.' {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// File vanished between ReadDir and stat; the next scan sees it if it returns.
			continue
		}
		key := fmt.Sprintf("%s:%d", e.Name(), info.Size())
		if processed[key] {
			continue
		}

		docs, err := readDocs(filepath.Join(dir, e.Name()))
		if err != nil {
			mFileErrors.Inc()
			log.Error("unreadable document file", "file", e.Name(), "error", err)
			continue
		}

		batch, err := pipeline.IngestBatch(ctx, docs)
		if err != nil {
			log.Warn("batch interrupted", "file", e.Name(), "error", err)
			return
		}
		mFilesProcessed.Inc()
		log.Info("file done", "file", e.Name(), "ingested", len(batch.Success), "failed", len(batch.Failed))
		for _, f := range batch.Failed {
			log.Warn("document failed", "file", e.Name(), "doc_id", f.DocID, "reason", f.Reason)
		}

		if len(batch.Failed) == 0 {
			processed[key] = true
		} else {
			mFileErrors.Inc()
		}
	}
}

func readDocs(path string) ([]domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var docs []domain.Document
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, err
		}
		return docs, nil
	}
	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return []domain.Document{doc}, nil
}
