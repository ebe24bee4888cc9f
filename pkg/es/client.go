// Package es 提供了与 Elasticsearch 向量索引交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"doclens-go/internal/config"
	"doclens-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ChunkDoc 是写入 Elasticsearch 的文档结构，一条对应一个文本块向量。
type ChunkDoc struct {
	VectorID     string    `json:"vector_id"`
	DocumentID   string    `json:"document_id"`
	OwnerID      uint      `json:"owner_id"`
	ChunkIndex   int       `json:"chunk_index"`
	Content      string    `json:"content"`
	PageNumbers  []int     `json:"page_numbers"`
	ChunkType    string    `json:"chunk_type"`
	ModelVersion string    `json:"model_version"`
	Vector       []float32 `json:"vector"`
}

// Hit 是一次向量检索的单条命中结果。
type Hit struct {
	VectorID string
	Score    float64
	Source   ChunkDoc
}

// Client 封装对单个索引的所有读写操作。
type Client struct {
	es        *elasticsearch.Client
	indexName string
	dims      int
}

// NewClient 初始化 Elasticsearch 客户端并确保索引存在。
// dims 必须与 Embedding 模型的输出维度一致。
func NewClient(esCfg config.ElasticsearchConfig, dims int) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	esClient, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	c := &Client{es: esClient, indexName: esCfg.IndexName, dims: dims}
	if err := c.EnsureIndex(); err != nil {
		return nil, err
	}
	return c, nil
}

// EnsureIndex 检查索引是否存在，如果不存在则按固定 mapping 创建它。
func (c *Client) EnsureIndex() error {
	res, err := c.es.Indices.Exists([]string{c.indexName})
	if err != nil {
		log.Errorf("[ES] 检查索引是否存在时出错: %v", err)
		return err
	}
	// 如果 res.StatusCode 是 200，说明索引已存在
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("[ES] 索引 '%s' 已存在", c.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("[ES] 检查索引 '%s' 是否存在时收到意外的状态码: %d", c.indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"owner_id": { "type": "long" },
				"chunk_index": { "type": "integer" },
				"content": { "type": "text" },
				"page_numbers": { "type": "integer" },
				"chunk_type": { "type": "keyword" },
				"model_version": { "type": "keyword" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, c.dims)

	res, err = c.es.Indices.Create(
		c.indexName,
		c.es.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("[ES] 创建索引 '%s' 失败: %v", c.indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("[ES] 创建索引 '%s' 时 Elasticsearch 返回错误: %s", c.indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("[ES] 索引 '%s' 创建成功", c.indexName)
	return nil
}

// UpsertChunk 以 vector_id 作为文档 ID 写入一个文本块向量。
// 相同 vector_id 重复写入时覆盖旧文档，保证重复摄取的幂等性。
func (c *Client) UpsertChunk(ctx context.Context, doc ChunkDoc) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      c.indexName,
		DocumentID: doc.VectorID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("[ES] 索引文档到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index chunk document")
	}

	return nil
}

// SearchByVector 在当前用户可见范围内执行 kNN 向量检索。
// owner_id 过滤始终生效，低于 minScore 的命中会被丢弃。
func (c *Client) SearchByVector(ctx context.Context, vector []float32, ownerID uint, topK int, minScore float64) ([]Hit, error) {
	var buf bytes.Buffer
	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": topK * 10,
			"filter": map[string]interface{}{
				"term": map[string]interface{}{"owner_id": ownerID},
			},
		},
		"min_score": minScore,
		"size":      topK,
	}

	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.indexName),
		c.es.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[ES] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[ES] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.String())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source ChunkDoc `json:"_source"`
				Score  float64  `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	hits := make([]Hit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hits = append(hits, Hit{
			VectorID: h.Source.VectorID,
			Score:    h.Score,
			Source:   h.Source,
		})
	}
	log.Infof("[ES] 向量检索完成, owner_id: %d, 命中 %d 条", ownerID, len(hits))
	return hits, nil
}

// DeleteByDocument 按 document_id 清除索引中一篇文档的所有向量。
// 文档摄取失败或被删除时调用，避免残留向量被检索到。
func (c *Client) DeleteByDocument(ctx context.Context, documentID string) error {
	query := fmt.Sprintf(`{"query": {"term": {"document_id": %q}}}`, documentID)

	res, err := c.es.DeleteByQuery(
		[]string{c.indexName},
		strings.NewReader(query),
		c.es.DeleteByQuery.WithContext(ctx),
		c.es.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		log.Errorf("[ES] 按文档清除向量失败, document_id: %s, error: %v", documentID, err)
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("[ES] 按文档清除向量时 Elasticsearch 返回错误: %s", res.String())
		return errors.New("failed to delete vectors by document")
	}

	log.Infof("[ES] 已清除文档 %s 的全部向量", documentID)
	return nil
}

// CountByDocument 统计索引中一篇文档现存的向量条数。
func (c *Client) CountByDocument(ctx context.Context, documentID string) (int64, error) {
	query := fmt.Sprintf(`{"query": {"term": {"document_id": %q}}}`, documentID)

	res, err := c.es.Count(
		c.es.Count.WithContext(ctx),
		c.es.Count.WithIndex(c.indexName),
		c.es.Count.WithBody(strings.NewReader(query)),
	)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, fmt.Errorf("elasticsearch count returned an error: %s", res.String())
	}

	var countResp struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&countResp); err != nil {
		return 0, err
	}
	return countResp.Count, nil
}
