// Package redis implements the search cache and neighbour cache on Redis.
// The search cache mirrors indexed chunks into a RediSearch index for
// low-latency hybrid queries; it is derived state, never authoritative,
// and every failure maps to domain.ErrCacheUnavailable so the retriever
// can fall back to the primary store.
package redis

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
	"github.com/lexikon-ai/kbengine/internal/logger"
)

// Ensure SearchCache implements the port.
var _ driven.SearchCache = (*SearchCache)(nil)

const (
	chunkKeyPrefix = "kb:chunk:"
	docSetPrefix   = "kb:doc:"
	docVerPrefix   = "kb:docver:"
	indexName      = "idx:kb_chunks"

	fieldContent      = "content"
	fieldTitle        = "title"
	fieldCategory     = "category"
	fieldDomain       = "domain"
	fieldLanguage     = "language"
	fieldDocumentID   = "document_id"
	fieldDocVersion   = "doc_version"
	fieldArticleLabel = "article_label"
	fieldIndexedAt    = "indexed_at"
	fieldVector       = "vector"
)

// claimVersion refuses to lower a document's cached version. Returns 1
// when the caller may write, 0 when a newer version is already cached.
var claimVersion = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// Config holds Redis connection settings for the caches.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int

	// Dimensions of the vectors indexed for KNN.
	Dimensions int

	// QueryTimeout bounds every cache operation; it is intentionally
	// short so retrieval falls back to the store instead of queueing.
	QueryTimeout time.Duration
}

// SearchCache is the RediSearch-backed hybrid index.
type SearchCache struct {
	client *redis.Client
	dims   int
}

// NewSearchCache connects to Redis and ensures the vector index exists.
// Connection failure at startup is not fatal to the engine: the caller
// may run in degraded (store-only) mode.
func NewSearchCache(ctx context.Context, cfg Config) (*SearchCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.QueryTimeout,
		ReadTimeout:  cfg.QueryTimeout,
		WriteTimeout: cfg.QueryTimeout,
	})

	c := &SearchCache{client: client, dims: cfg.Dimensions}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	if err := c.ensureIndex(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return c, nil
}

// ensureIndex creates the RediSearch index if it does not exist yet.
func (c *SearchCache) ensureIndex(ctx context.Context) error {
	if _, err := c.client.Do(ctx, "FT.INFO", indexName).Result(); err == nil {
		return nil
	}

	_, err := c.client.Do(ctx, "FT.CREATE", indexName,
		"ON", "HASH",
		"PREFIX", "1", chunkKeyPrefix,
		"SCHEMA",
		fieldVector, "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(c.dims),
		"DISTANCE_METRIC", "COSINE",
		fieldContent, "TEXT",
		fieldTitle, "TEXT",
		fieldCategory, "TAG",
		fieldDomain, "TAG",
		fieldLanguage, "TAG",
		fieldDocumentID, "TAG",
		fieldArticleLabel, "TEXT",
		fieldDocVersion, "NUMERIC",
		fieldIndexedAt, "NUMERIC",
	).Result()
	if err != nil {
		return fmt.Errorf("%w: creating index: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}

// Upsert writes cache entries for one document version. All entries of a
// batch must belong to the same document; the version claim rejects
// writes stamped older than what is already cached, so a slow
// propagation can never clobber a newer projection.
func (c *SearchCache) Upsert(ctx context.Context, entries []driven.CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	docID := entries[0].DocumentID
	version := entries[0].DocVersion

	ok, err := claimVersion.Run(ctx, c.client,
		[]string{docVerPrefix + docID}, version).Int()
	if err != nil {
		return fmt.Errorf("%w: claiming version: %v", domain.ErrCacheUnavailable, err)
	}
	if ok == 0 {
		logger.Debug("Cache upsert skipped: document %s already cached at a newer version than %d",
			docID, version)
		return nil
	}

	// Replace the document's projection wholesale: chunk IDs change
	// between versions, so stale hashes must go.
	if err := c.removeChunks(ctx, docID); err != nil {
		return err
	}

	pipe := c.client.Pipeline()
	for _, e := range entries {
		key := chunkKeyPrefix + e.ChunkID
		pipe.HSet(ctx, key,
			fieldContent, e.Content,
			fieldTitle, e.DocumentTitle,
			fieldCategory, e.Category,
			fieldDomain, e.Domain,
			fieldLanguage, e.Language,
			fieldDocumentID, e.DocumentID,
			fieldDocVersion, e.DocVersion,
			fieldArticleLabel, e.ArticleLabel,
			fieldIndexedAt, e.IndexedAt.Unix(),
			fieldVector, encodeVector(e.Vector),
		)
		pipe.SAdd(ctx, docSetPrefix+e.DocumentID, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: writing entries: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}

// Remove evicts all entries of a document and forgets its version claim.
func (c *SearchCache) Remove(ctx context.Context, documentID string) error {
	if err := c.removeChunks(ctx, documentID); err != nil {
		return err
	}
	if err := c.client.Del(ctx, docVerPrefix+documentID).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}

func (c *SearchCache) removeChunks(ctx context.Context, documentID string) error {
	setKey := docSetPrefix + documentID
	keys, err := c.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("%w: listing document chunks: %v", domain.ErrCacheUnavailable, err)
	}
	if len(keys) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	pipe.Del(ctx, keys...)
	pipe.Del(ctx, setKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: deleting document chunks: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}

// HybridQuery runs the KNN and lexical legs against the cache and
// returns both raw score sets; the retriever owns the weighting.
func (c *SearchCache) HybridQuery(ctx context.Context, vector []float32, lexical string, filters domain.SearchFilters, k int) (*driven.HybridHits, error) {
	if len(vector) != c.dims {
		return nil, fmt.Errorf("%w: query has %d dims, index %d",
			domain.ErrDimensionMismatch, len(vector), c.dims)
	}

	filterExpr := buildFilterExpr(filters)

	vecHits, err := c.knnQuery(ctx, vector, filterExpr, k)
	if err != nil {
		return nil, err
	}
	lexHits, err := c.textQuery(ctx, lexical, filterExpr, k)
	if err != nil {
		return nil, err
	}
	return &driven.HybridHits{Vector: vecHits, Lexical: lexHits}, nil
}

func (c *SearchCache) knnQuery(ctx context.Context, vector []float32, filterExpr string, k int) ([]driven.CacheHit, error) {
	queryStr := fmt.Sprintf("%s=>[KNN %d @%s $query_vector AS knn_dist]", filterExpr, k, fieldVector)

	result, err := c.client.Do(ctx, "FT.SEARCH", indexName, queryStr,
		"PARAMS", "2", "query_vector", encodeVector(vector),
		"RETURN", "6", fieldContent, fieldTitle, fieldDocumentID, fieldArticleLabel, fieldIndexedAt, "knn_dist",
		"SORTBY", "knn_dist",
		"LIMIT", "0", strconv.Itoa(k),
		"DIALECT", "2",
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: knn query: %v", domain.ErrCacheUnavailable, err)
	}

	hits, err := parseSearchReply(result)
	if err != nil {
		return nil, err
	}
	// RediSearch returns cosine distance; convert to similarity.
	for i := range hits {
		hits[i].Score = 1 - hits[i].Score
	}
	return hits, nil
}

func (c *SearchCache) textQuery(ctx context.Context, lexical, filterExpr string, k int) ([]driven.CacheHit, error) {
	query := escapeQuery(lexical)
	if query == "" {
		return nil, nil
	}
	if filterExpr != "*" {
		query = filterExpr + " " + query
	}

	result, err := c.client.Do(ctx, "FT.SEARCH", indexName, query,
		"WITHSCORES",
		"RETURN", "5", fieldContent, fieldTitle, fieldDocumentID, fieldArticleLabel, fieldIndexedAt,
		"LIMIT", "0", strconv.Itoa(k),
		"DIALECT", "2",
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: text query: %v", domain.ErrCacheUnavailable, err)
	}

	return parseSearchReplyWithScores(result)
}

// Ping reports reachability.
func (c *SearchCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}

// FreshnessLag is reported by the store-side outbox, not the cache; the
// cache only distinguishes reachable from not.
func (c *SearchCache) FreshnessLag(ctx context.Context) (time.Duration, error) {
	if err := c.Ping(ctx); err != nil {
		return 0, err
	}
	return 0, nil
}

// Close releases the client.
func (c *SearchCache) Close() error {
	return c.client.Close()
}

// encodeVector packs a float32 vector little-endian for RediSearch.
func encodeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, f := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
