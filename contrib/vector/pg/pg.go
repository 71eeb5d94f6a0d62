package pg

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lib/pq"

	normerrors "github.com/sweetpotato0/normrag/errors"
	"github.com/sweetpotato0/normrag/vector"
)

// hnsw indexes in pgvector are limited to this many dimensions
const maxIndexedDimension = 2000

var validName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Index implements vector.Index on PostgreSQL with the pgvector extension.
// Each collection is a table named after it.
type Index struct {
	db *sql.DB
}

var _ vector.Index = (*Index)(nil)

// Config holds pgvector connection settings.
type Config struct {
	DSN string
}

// New opens the database, verifies the connection and enables pgvector.
func New(ctx context.Context, cfg Config) (*Index, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	idx := NewWithDB(db)
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create vector extension: %w", err)
	}
	return idx, nil
}

// NewWithDB wraps an existing connection pool.
func NewWithDB(db *sql.DB) *Index {
	return &Index{db: db}
}

// Close closes the database connection
func (s *Index) Close() error {
	return s.db.Close()
}

func (s *Index) EnsureCollection(ctx context.Context, name string, dim int) error {
	table, err := tableName(name)
	if err != nil {
		return err
	}
	if dim <= 0 {
		return fmt.Errorf("pg: dimension must be positive, got %d", dim)
	}

	createTableSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id UUID PRIMARY KEY,
		text TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		norm_type TEXT NOT NULL,
		norm_number TEXT NOT NULL,
		article TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL,
		domain TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		embedding vector(%d) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, pq.QuoteIdentifier(table), dim)
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	if dim > maxIndexedDimension {
		// exact scan; hnsw cannot index vectors this wide
		return nil
	}
	indexSQL := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
		pq.QuoteIdentifier(table+"_embedding_idx"), pq.QuoteIdentifier(table))
	if _, err := s.db.ExecContext(ctx, indexSQL); err != nil {
		return fmt.Errorf("failed to create index on %s: %w", table, err)
	}
	return nil
}

func (s *Index) DeleteCollection(ctx context.Context, name string) error {
	table, err := tableName(name)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+pq.QuoteIdentifier(table)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", table, err)
	}
	return nil
}

func (s *Index) Upsert(ctx context.Context, name string, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}
	table, err := tableName(name)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
	INSERT INTO %s (id, text, source, norm_type, norm_number, article, year, domain, url, embedding)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::vector)
	ON CONFLICT (id) DO UPDATE SET
		text = EXCLUDED.text,
		source = EXCLUDED.source,
		norm_type = EXCLUDED.norm_type,
		norm_number = EXCLUDED.norm_number,
		article = EXCLUDED.article,
		year = EXCLUDED.year,
		domain = EXCLUDED.domain,
		url = EXCLUDED.url,
		embedding = EXCLUDED.embedding,
		created_at = CURRENT_TIMESTAMP
	`, pq.QuoteIdentifier(table)))
	if err != nil {
		return s.wrapMissing(table, fmt.Errorf("failed to prepare upsert: %w", err))
	}
	defer stmt.Close()

	for _, p := range points {
		pl := p.Payload
		if _, err := stmt.ExecContext(ctx, p.ID, pl.Text, pl.Source, pl.NormType, pl.NormNumber,
			pl.Article, pl.Year, pl.Domain, pl.URL, vectorToString(p.Vector)); err != nil {
			return fmt.Errorf("failed to upsert point %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	return nil
}

func (s *Index) Query(ctx context.Context, name string, vec []float32, topK int, minScore float32) ([]vector.Hit, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}
	table, err := tableName(name)
	if err != nil {
		return nil, err
	}
	exists, err := s.tableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("pg: collection %q: %w", name, normerrors.ErrNotFound)
	}
	if topK <= 0 {
		topK = 10
	}

	query := fmt.Sprintf(`
	SELECT id, text, source, norm_type, norm_number, article, year, domain, url,
		1 - (embedding <=> $1::vector) AS score
	FROM %s
	WHERE 1 - (embedding <=> $1::vector) >= $2
	ORDER BY embedding <=> $1::vector
	LIMIT $3
	`, pq.QuoteIdentifier(table))

	rows, err := s.db.QueryContext(ctx, query, vectorToString(vec), minScore, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", table, err)
	}
	defer rows.Close()

	hits := make([]vector.Hit, 0, topK)
	for rows.Next() {
		var h vector.Hit
		var score float64
		pl := &h.Payload
		if err := rows.Scan(&h.ID, &pl.Text, &pl.Source, &pl.NormType, &pl.NormNumber,
			&pl.Article, &pl.Year, &pl.Domain, &pl.URL, &score); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		h.Score = float32(score)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hits: %w", err)
	}
	return hits, nil
}

func (s *Index) CollectionInfo(ctx context.Context, name string) (vector.CollectionInfo, error) {
	info := vector.CollectionInfo{Name: name}
	table, err := tableName(name)
	if err != nil {
		return info, err
	}
	exists, err := s.tableExists(ctx, table)
	if err != nil || !exists {
		return info, err
	}
	info.Exists = true

	countSQL := "SELECT COUNT(*) FROM " + pq.QuoteIdentifier(table)
	if err := s.db.QueryRowContext(ctx, countSQL).Scan(&info.PointsCount); err != nil {
		return info, fmt.Errorf("failed to count %s: %w", table, err)
	}
	// pgvector keeps the declared dimension in atttypmod
	dimSQL := `SELECT atttypmod FROM pg_attribute WHERE attrelid = to_regclass($1) AND attname = 'embedding'`
	if err := s.db.QueryRowContext(ctx, dimSQL, table).Scan(&info.Dimension); err != nil && err != sql.ErrNoRows {
		return info, fmt.Errorf("failed to read dimension of %s: %w", table, err)
	}
	return info, nil
}

func (s *Index) tableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, "SELECT to_regclass($1) IS NOT NULL", table).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to look up table %s: %w", table, err)
	}
	return exists, nil
}

func (s *Index) wrapMissing(table string, err error) error {
	var pqErr *pq.Error
	if ok := asPQ(err, &pqErr); ok && pqErr.Code == "42P01" {
		return fmt.Errorf("pg: table %s: %w", table, normerrors.ErrNotFound)
	}
	return err
}

func asPQ(err error, target **pq.Error) bool {
	return normerrors.As(err, target)
}

func tableName(collection string) (string, error) {
	name := strings.ToLower(collection)
	if !validName.MatchString(name) {
		return "", fmt.Errorf("pg: invalid collection name %q", collection)
	}
	return name, nil
}

func vectorToString(vec []float32) string {
	var b strings.Builder
	b.Grow(len(vec) * 10)
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
