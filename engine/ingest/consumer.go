package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/natsutil"
)

const (
	// IngestSubject is the NATS subject for incoming documents.
	IngestSubject = "engine.ingest"
	// DLQSubject receives messages that exhausted their retries or
	// failed permanently.
	DLQSubject = "engine.ingest.dlq"
	// MaxRetries before a retryable failure goes to the DLQ.
	MaxRetries = 3
)

// dlqMessage is published to the DLQ on terminal failure.
type dlqMessage struct {
	Document domain.Document `json:"document"`
	Error    string          `json:"error"`
	Retries  int             `json:"retries"`
}

// StartConsumer subscribes the pipeline to the ingest subject. Retryable
// failures are re-published with an incremented X-Retry-Count header;
// permanent failures and exhausted retries go to the DLQ.
func StartConsumer(nc *nats.Conn, p *Pipeline) (*nats.Subscription, error) {
	return nc.Subscribe(IngestSubject, func(msg *nats.Msg) {
		log := p.log
		var doc domain.Document
		if err := json.Unmarshal(msg.Data, &doc); err != nil {
			log.Error("ingest: unmarshal failed", "error", err)
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		ctx := context.Background()
		res, err := p.Ingest(ctx, doc)
		switch {
		case err == nil:
			log.Info("ingest: consumed", "doc_id", res.DocID, "chunks", res.ChunkCount)

		case domain.Retryable(err) && retries+1 < MaxRetries:
			retries++
			log.Warn("ingest: retrying", "doc_id", doc.ID, "retry", retries, "error", err)
			if pubErr := natsutil.Publish(ctx, nc, IngestSubject, doc,
				"X-Retry-Count", fmt.Sprintf("%d", retries)); pubErr != nil {
				log.Error("ingest: retry publish failed", "doc_id", doc.ID, "error", pubErr)
			}

		default:
			log.Error("ingest: sending to DLQ", "doc_id", doc.ID, "retries", retries, "error", err)
			dlq := dlqMessage{Document: doc, Error: failureReason(err), Retries: retries}
			if pubErr := natsutil.Publish(ctx, nc, DLQSubject, dlq); pubErr != nil {
				log.Error("ingest: DLQ publish failed", "doc_id", doc.ID, "error", pubErr)
			}
		}

		if msg.Reply != "" {
			_ = msg.Ack()
		}
	})
}
