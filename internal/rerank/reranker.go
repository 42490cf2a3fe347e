// Package rerank deduplicates and reorders retrieval results by their lexical
// overlap with the query.
package rerank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vanshika/kgcommit/internal/logging"
	"github.com/vanshika/kgcommit/internal/pipeline"
)

var (
	// ErrUnknownPolicy is returned by New for a policy name it cannot dispatch.
	ErrUnknownPolicy = errors.New("unknown rerank policy")
	// ErrMissingQuery is returned by Run when the context carries no query.
	ErrMissingQuery = errors.New("query is required")
)

var _ pipeline.Operator = (*Reranker)(nil)

var tracer = otel.Tracer("github.com/vanshika/kgcommit/internal/rerank")

// Policy names a scoring strategy.
type Policy string

const (
	PolicyBLEU     Policy = "bleu"
	PolicyPriority Policy = "priority"
)

// ParsePolicy maps a configured name to a Policy.
func ParsePolicy(name string) (Policy, error) {
	p := Policy(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := scorers[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return p, nil
}

// Scorer rates how relevant candidate is to query; higher is better.
type Scorer interface {
	Score(query, candidate string) float64
}

// BLEUScorer scores with sentence BLEU over bilingual tokens, using the query
// as the reference.
type BLEUScorer struct{}

func (BLEUScorer) Score(query, candidate string) float64 {
	return SentenceBLEU(Tokenize(query), Tokenize(candidate))
}

// PriorityScorer is a placeholder that currently scores exactly like
// BLEUScorer. The planned tiers are: exact recall above fuzzy recall, one-hop
// graph neighbours above two-hop ones, and selected entity types above others.
type PriorityScorer struct {
	BLEUScorer
}

var scorers = map[Policy]Scorer{
	PolicyBLEU:     BLEUScorer{},
	PolicyPriority: PriorityScorer{},
}

// Embedder turns text into a vector. The reranker keeps one for semantic
// scoring; no current policy calls it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Scored pairs a candidate with its relevance score.
type Scored struct {
	Candidate string
	Score     float64
}

// Reranker deduplicates and ranks result lists for a query.
type Reranker struct {
	policy     Policy
	scorer     Scorer
	embedder   Embedder
	vectorTopK int
	graphTopK  int
	logger     *slog.Logger
}

// Option customizes a Reranker.
type Option func(*Reranker)

// WithEmbedder injects the embedding capability.
func WithEmbedder(e Embedder) Option {
	return func(r *Reranker) { r.embedder = e }
}

// WithTopK sets how many results Run keeps for the vector and graph lists.
func WithTopK(vector, graph int) Option {
	return func(r *Reranker) {
		r.vectorTopK = vector
		r.graphTopK = graph
	}
}

// WithLogger sets the logger used by Run.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reranker) { r.logger = logger }
}

// DefaultTopK is used by Run when no WithTopK option is given.
const DefaultTopK = 10

// New builds a Reranker for the named policy. An unknown policy is a
// configuration error reported here rather than at Run time.
func New(policy string, opts ...Option) (*Reranker, error) {
	p, err := ParsePolicy(policy)
	if err != nil {
		return nil, err
	}
	r := &Reranker{
		policy:     p,
		scorer:     scorers[p],
		vectorTopK: DefaultTopK,
		graphTopK:  DefaultTopK,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDiscard(r.logger).With("component", "reranker", "policy", string(p))
	return r, nil
}

// Policy returns the policy the reranker dispatches to.
func (r *Reranker) Policy() Policy { return r.policy }

// Embedder returns the injected embedding capability, which may be nil.
func (r *Reranker) Embedder() Embedder { return r.embedder }

// Rerank returns at most topK unique candidates ordered by descending score.
func (r *Reranker) Rerank(query string, candidates []string, topK int) []string {
	scored := r.RerankScored(query, candidates, topK)
	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.Candidate
	}
	return out
}

// RerankScored is Rerank with the scores kept. Duplicates are removed by exact
// equality, the first occurrence surviving; equal scores keep input order.
func (r *Reranker) RerankScored(query string, candidates []string, topK int) []Scored {
	if topK <= 0 {
		return []Scored{}
	}

	seen := make(map[string]struct{}, len(candidates))
	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		scored = append(scored, Scored{Candidate: c, Score: r.scorer.Score(query, c)})
	}

	slices.SortStableFunc(scored, func(a, b Scored) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// Run reranks the vector and graph result lists of a pipeline context
// independently, each truncated to its own top-K. The input map is not modified.
func (r *Reranker) Run(ctx context.Context, data pipeline.Context) (pipeline.Context, error) {
	_, span := tracer.Start(ctx, "rerank.Run")
	defer span.End()

	query, ok, err := pipeline.Decode[string](data, pipeline.KeyQuery)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMissingQuery
	}
	vector, _, err := pipeline.Decode[[]string](data, pipeline.KeyVectorResult)
	if err != nil {
		return nil, err
	}
	graph, _, err := pipeline.Decode[[]string](data, pipeline.KeyGraphResult)
	if err != nil {
		return nil, err
	}

	out := data.Clone()
	out[pipeline.KeyVectorResult] = r.Rerank(query, vector, r.vectorTopK)
	out[pipeline.KeyGraphResult] = r.Rerank(query, graph, r.graphTopK)

	span.SetAttributes(
		attribute.String("rerank.policy", string(r.policy)),
		attribute.Int("rerank.vector_in", len(vector)),
		attribute.Int("rerank.graph_in", len(graph)),
	)
	r.logger.DebugContext(ctx, "reranked results",
		"vector_in", len(vector), "graph_in", len(graph),
		"vector_out", len(out[pipeline.KeyVectorResult].([]string)),
		"graph_out", len(out[pipeline.KeyGraphResult].([]string)),
	)
	return out, nil
}
