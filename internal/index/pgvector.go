package index

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/philippgille/chromem-go"

	"github.com/seantiz/ragserve/internal/model"
)

var _ Retriever = (*PGVector)(nil)

// PGVector queries a Postgres table with content and embedding columns using
// the pgvector L2 distance operator.
type PGVector struct {
	pool  *pgxpool.Pool
	embed chromem.EmbeddingFunc
	query string
}

// OpenPGVector connects to dsn and verifies the connection.
func OpenPGVector(ctx context.Context, dsn, table string, embed chromem.EmbeddingFunc) (*PGVector, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PGVector{
		pool:  pool,
		embed: embed,
		query: selectNearest(table),
	}, nil
}

func selectNearest(table string) string {
	return `SELECT content, embedding <-> $1 AS distance FROM ` +
		pgx.Identifier{table}.Sanitize() +
		` ORDER BY distance LIMIT $2`
}

// Retrieve embeds the question and returns the k nearest rows.
func (p *PGVector) Retrieve(ctx context.Context, question string, k int) ([]model.Evidence, error) {
	vec, err := p.embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	rows, err := p.pool.Query(ctx, p.query, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("query nearest: %w", err)
	}
	defer rows.Close()

	var evidence []model.Evidence
	for rows.Next() {
		var ev model.Evidence
		if err := rows.Scan(&ev.Content, &ev.Distance); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		evidence = append(evidence, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return evidence, nil
}

// Close releases the connection pool.
func (p *PGVector) Close() error {
	p.pool.Close()
	return nil
}
