// Command query runs one retrieval against a live stack and prints the
// results as JSON. Intended for smoke-testing an ingested corpus.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
	"github.com/CourseForgeAI/courseforge-mvp/engine/keyword"
	"github.com/CourseForgeAI/courseforge-mvp/engine/retrieval"
	"github.com/CourseForgeAI/courseforge-mvp/engine/semantic"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/embed"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/rerank"
)

func main() {
	var (
		qdrantAddr = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection = flag.String("collection", "courseforge", "Qdrant collection name")
		blevePath  = flag.String("bleve", "/var/lib/courseforge/keyword.bleve", "keyword index path")
		embedURL   = flag.String("embed-url", "http://localhost:11434", "embedding endpoint base URL")
		embedModel = flag.String("embed-model", "nomic-embed-text", "embedding model")
		embedDims  = flag.Int("dims", 768, "embedding dimensions")
		rerankURL  = flag.String("rerank-url", "", "rerank endpoint base URL; empty disables reranking")
		course     = flag.String("course", "", "filter by course id")
		minQuality = flag.Float64("min-quality", 0, "filter by minimum quality score")
		mode       = flag.String("mode", "hybrid", "search mode (hybrid, semantic, keyword)")
		topK       = flag.Int("top-k", 10, "number of results")
	)
	flag.Parse()

	query := strings.Join(flag.Args(), " ")
	if strings.TrimSpace(query) == "" {
		fmt.Fprintln(os.Stderr, "usage: query [flags] <query text>")
		os.Exit(2)
	}

	log := slog.Default()
	ctx := context.Background()

	vec, err := semantic.New(*qdrantAddr, log)
	if err != nil {
		log.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer vec.Close()

	kw, err := keyword.Open(*blevePath)
	if err != nil {
		log.Error("keyword index open failed", "error", err)
		os.Exit(1)
	}
	defer kw.Close()

	embedder := embed.NewHTTP(embed.Options{
		BaseURL:    *embedURL,
		APIKey:     os.Getenv("COURSEFORGE_EMBED_KEY"),
		Model:      *embedModel,
		Dimensions: *embedDims,
	})

	deps := retrieval.Deps{Vector: vec, Keyword: kw, Embedder: embedder, Log: log}
	if *rerankURL != "" {
		deps.Reranker = rerank.NewHTTP(rerank.Options{
			BaseURL: *rerankURL,
			APIKey:  os.Getenv("COURSEFORGE_RERANK_KEY"),
		})
	}
	r := retrieval.New(retrieval.DefaultOptions(*collection), deps)

	resp, err := r.Retrieve(ctx, retrieval.Query{
		Text:         query,
		CourseID:     *course,
		MinQuality:   *minQuality,
		Mode:         domain.SearchType(*mode),
		TopK:         *topK,
		EnableRerank: deps.Reranker != nil,
	})
	if err != nil {
		log.Error("retrieve failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		log.Error("encode failed", "error", err)
		os.Exit(1)
	}
}
