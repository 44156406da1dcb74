package handler

import (
	"io"
	"net/http"
	"strconv"

	"llm-retrieval-go/internal/model"
	"llm-retrieval-go/internal/service"
	"llm-retrieval-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 负责处理文档生命周期相关的 API 请求。
type DocumentHandler struct {
	documentService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(documentService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

// Upload 处理 multipart 文件上传，登记文档并触发后台摄取。
func (h *DocumentHandler) Upload(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求：缺少 file 字段"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无法读取上传文件"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无法读取上传文件"})
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	doc, err := h.documentService.Upload(c.Request.Context(), user, fileHeader.Filename, contentType, data)
	if err != nil {
		respondError(c, err)
		return
	}

	log.Infof("文档上传成功, DocumentID: %s, FileName: %s", doc.ID, doc.FileName)
	c.JSON(http.StatusAccepted, gin.H{
		"code":    http.StatusAccepted,
		"message": "文档已接收，正在后台处理",
		"data":    doc,
	})
}

// Get 查询单个文档的元数据与处理状态。
func (h *DocumentHandler) Get(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	doc, err := h.documentService.Get(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, doc)
}

// List 分页列出当前用户的文档。
func (h *DocumentHandler) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	docs, total, err := h.documentService.List(c.Request.Context(), user, skip, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	respondOK(c, gin.H{
		"documents": docs,
		"total":     total,
		"skip":      skip,
		"limit":     limit,
	})
}

// Delete 删除文档及其索引数据。
func (h *DocumentHandler) Delete(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.documentService.Delete(c.Request.Context(), user, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"deleted": true})
}
