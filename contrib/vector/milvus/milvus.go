package milvus

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	normerrors "github.com/sweetpotato0/normrag/errors"
	"github.com/sweetpotato0/normrag/vector"
)

// Field names of a normrag collection
const (
	FieldID         = "id"
	FieldVector     = "vector"
	FieldText       = "text"
	FieldSource     = "source"
	FieldNormType   = "norm_type"
	FieldNormNumber = "norm_number"
	FieldArticle    = "article"
	FieldYear       = "year"
	FieldDomain     = "domain"
	FieldURL        = "url"
)

var outputFields = []string{FieldText, FieldSource, FieldNormType, FieldNormNumber, FieldArticle, FieldYear, FieldDomain, FieldURL}

// Index implements vector.Index on Milvus with an HNSW cosine index.
type Index struct {
	client *milvusclient.Client
}

var _ vector.Index = (*Index)(nil)

type Config struct {
	Address string
	APIKey  string
}

func New(ctx context.Context, cfg Config) (*Index, error) {
	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address: cfg.Address,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Milvus: %w", err)
	}
	return &Index{client: c}, nil
}

// Close closes the connection to Milvus
func (m *Index) Close(ctx context.Context) error {
	return m.client.Close(ctx)
}

func varchar(name, maxLength string) *entity.Field {
	return &entity.Field{
		Name:       name,
		DataType:   entity.FieldTypeVarChar,
		TypeParams: map[string]string{"max_length": maxLength},
	}
}

func (m *Index) EnsureCollection(ctx context.Context, name string, dim int) error {
	exists, err := m.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to check if collection exists: %w", err)
	}
	if !exists {
		schema := &entity.Schema{
			CollectionName: name,
			Description:    "Normative units",
			Fields: []*entity.Field{
				{
					Name:       FieldID,
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{"max_length": "64"},
				},
				{
					Name:       FieldVector,
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": strconv.Itoa(dim)},
				},
				varchar(FieldText, "65535"),
				varchar(FieldSource, "1024"),
				varchar(FieldNormType, "255"),
				varchar(FieldNormNumber, "64"),
				varchar(FieldArticle, "64"),
				{Name: FieldYear, DataType: entity.FieldTypeInt64},
				varchar(FieldDomain, "64"),
				varchar(FieldURL, "2048"),
			},
		}
		if err := m.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(name, schema)); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}

		idx := index.NewHNSWIndex(entity.COSINE, 16, 200)
		task, err := m.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, FieldVector, idx))
		if err != nil {
			return fmt.Errorf("failed to create index on %s: %w", name, err)
		}
		if err := task.Await(ctx); err != nil {
			return fmt.Errorf("failed to build index on %s: %w", name, err)
		}
	}

	// Milvus only searches loaded collections; loading twice is harmless.
	load, err := m.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to load collection %s: %w", name, err)
	}
	return load.Await(ctx)
}

func (m *Index) DeleteCollection(ctx context.Context, name string) error {
	exists, err := m.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil || !exists {
		return err
	}
	if err := m.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(name)); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", name, err)
	}
	return nil
}

func (m *Index) Upsert(ctx context.Context, name string, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}
	dim := len(points[0].Vector)
	n := len(points)
	ids := make([]string, n)
	vecs := make([][]float32, n)
	texts, sources, types, numbers := make([]string, n), make([]string, n), make([]string, n), make([]string, n)
	articles, domains, urls := make([]string, n), make([]string, n), make([]string, n)
	years := make([]int64, n)
	for i, p := range points {
		if len(p.Vector) != dim {
			return fmt.Errorf("milvus: point %s has dimension %d, expected %d", p.ID, len(p.Vector), dim)
		}
		ids[i], vecs[i] = p.ID, p.Vector
		texts[i], sources[i] = p.Payload.Text, p.Payload.Source
		types[i], numbers[i] = p.Payload.NormType, p.Payload.NormNumber
		articles[i], domains[i], urls[i] = p.Payload.Article, p.Payload.Domain, p.Payload.URL
		years[i] = int64(p.Payload.Year)
	}

	opt := milvusclient.NewColumnBasedInsertOption(name).
		WithVarcharColumn(FieldID, ids).
		WithFloatVectorColumn(FieldVector, dim, vecs).
		WithVarcharColumn(FieldText, texts).
		WithVarcharColumn(FieldSource, sources).
		WithVarcharColumn(FieldNormType, types).
		WithVarcharColumn(FieldNormNumber, numbers).
		WithVarcharColumn(FieldArticle, articles).
		WithInt64Column(FieldYear, years).
		WithVarcharColumn(FieldDomain, domains).
		WithVarcharColumn(FieldURL, urls)
	if _, err := m.client.Upsert(ctx, opt); err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", name, err)
	}
	return nil
}

func (m *Index) Query(ctx context.Context, name string, vec []float32, topK int, minScore float32) ([]vector.Hit, error) {
	exists, err := m.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil {
		return nil, fmt.Errorf("failed to check if collection exists: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("milvus: collection %q: %w", name, normerrors.ErrNotFound)
	}
	if topK <= 0 {
		topK = 5
	}

	opt := milvusclient.NewSearchOption(name, topK, []entity.Vector{entity.FloatVector(vec)}).
		WithANNSField(FieldVector).
		WithOutputFields(outputFields...).
		WithConsistencyLevel(entity.ClStrong)
	results, err := m.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", name, err)
	}
	if len(results) == 0 || results[0].ResultCount == 0 {
		return []vector.Hit{}, nil
	}
	return hitsFromResult(results[0], minScore)
}

func hitsFromResult(rs milvusclient.ResultSet, minScore float32) ([]vector.Hit, error) {
	hits := make([]vector.Hit, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		// COSINE scores are similarities: higher is closer
		if i >= len(rs.Scores) || rs.Scores[i] < minScore {
			continue
		}
		id, err := rs.IDs.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("milvus: read id: %w", err)
		}
		h := vector.Hit{ID: id, Score: rs.Scores[i]}
		h.Payload.Text = stringAt(rs.GetColumn(FieldText), i)
		h.Payload.Source = stringAt(rs.GetColumn(FieldSource), i)
		h.Payload.NormType = stringAt(rs.GetColumn(FieldNormType), i)
		h.Payload.NormNumber = stringAt(rs.GetColumn(FieldNormNumber), i)
		h.Payload.Article = stringAt(rs.GetColumn(FieldArticle), i)
		h.Payload.Domain = stringAt(rs.GetColumn(FieldDomain), i)
		h.Payload.URL = stringAt(rs.GetColumn(FieldURL), i)
		if col := rs.GetColumn(FieldYear); col != nil {
			if year, err := col.GetAsInt64(i); err == nil {
				h.Payload.Year = int(year)
			}
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func stringAt(col column.Column, i int) string {
	if col == nil {
		return ""
	}
	s, err := col.GetAsString(i)
	if err != nil {
		return ""
	}
	return s
}

func (m *Index) CollectionInfo(ctx context.Context, name string) (vector.CollectionInfo, error) {
	info := vector.CollectionInfo{Name: name}
	exists, err := m.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil || !exists {
		return info, err
	}
	info.Exists = true

	stats, err := m.client.GetCollectionStats(ctx, milvusclient.NewGetCollectionStatsOption(name))
	if err != nil {
		return info, fmt.Errorf("failed to get stats of %s: %w", name, err)
	}
	if rows, err := strconv.ParseInt(stats["row_count"], 10, 64); err == nil {
		info.PointsCount = rows
	}

	coll, err := m.client.DescribeCollection(ctx, milvusclient.NewDescribeCollectionOption(name))
	if err != nil {
		return info, fmt.Errorf("failed to describe %s: %w", name, err)
	}
	if coll.Schema != nil {
		for _, f := range coll.Schema.Fields {
			if f.Name == FieldVector {
				info.Dimension, _ = strconv.Atoi(f.TypeParams["dim"])
			}
		}
	}
	return info, nil
}
