package handler

import (
	"net/http"

	"llm-retrieval-go/internal/index"
	"llm-retrieval-go/internal/service"

	"github.com/gin-gonic/gin"
)

// RetrievalHandler 负责处理检索相关的 API 请求。
type RetrievalHandler struct {
	queryService service.QueryService
}

// NewRetrievalHandler 创建一个新的 RetrievalHandler 实例。
func NewRetrievalHandler(queryService service.QueryService) *RetrievalHandler {
	return &RetrievalHandler{queryService: queryService}
}

// MetadataFilterDTO 是请求体中的单个元数据过滤条件。
type MetadataFilterDTO struct {
	Key    string      `json:"key" binding:"required"`
	Equals interface{} `json:"equals,omitempty"`
	Min    *float64    `json:"min,omitempty"`
	Max    *float64    `json:"max,omitempty"`
}

// QueryRequest 定义了检索 API 的请求体结构。
type QueryRequest struct {
	Query               string              `json:"query" binding:"required"`
	TopK                int                 `json:"top_k"`
	SimilarityThreshold *float64            `json:"similarity_threshold,omitempty"`
	Filters             []MetadataFilterDTO `json:"filters,omitempty"`
}

// Query 处理默认的混合检索请求。
func (h *RetrievalHandler) Query(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：query 不能为空"})
		return
	}

	filters := make([]index.MetadataFilter, 0, len(req.Filters))
	for _, f := range req.Filters {
		filters = append(filters, index.MetadataFilter{
			Key:    f.Key,
			Equals: f.Equals,
			Min:    f.Min,
			Max:    f.Max,
		})
	}

	result, err := h.queryService.Query(c.Request.Context(), req.Query, req.TopK, req.SimilarityThreshold, filters)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// HybridSearchRequest 定义了混合检索 API 的请求体结构。
type HybridSearchRequest struct {
	Query       string `json:"query" binding:"required"`
	TopK        int    `json:"top_k"`
	UseSemantic *bool  `json:"use_semantic,omitempty"`
	UseKeyword  *bool  `json:"use_keyword,omitempty"`
}

// HybridSearch 处理可单独开关召回路的检索请求。
func (h *RetrievalHandler) HybridSearch(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	var req HybridSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：query 不能为空"})
		return
	}

	useSemantic, useKeyword := true, true
	if req.UseSemantic != nil {
		useSemantic = *req.UseSemantic
	}
	if req.UseKeyword != nil {
		useKeyword = *req.UseKeyword
	}

	result, err := h.queryService.HybridSearch(c.Request.Context(), req.Query, req.TopK, useSemantic, useKeyword)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}
