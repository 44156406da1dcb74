package service

import (
	"context"
	"fmt"
	"time"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/model"
	"llm-retrieval-go/internal/pipeline"
	"llm-retrieval-go/internal/repository"
	"llm-retrieval-go/pkg/log"
	"llm-retrieval-go/pkg/storage"
	"llm-retrieval-go/pkg/tasks"
	"llm-retrieval-go/pkg/tika"

	"github.com/google/uuid"
)

// 上传文件大小上限 50MB，与对象存储单次 Put 的合理范围对齐。
const maxUploadSize = 50 << 20

// TaskDispatcher 把摄取任务派发给后台管道。
// 生产部署走 Kafka，单机部署直接起 goroutine。
type TaskDispatcher interface {
	Dispatch(ctx context.Context, task tasks.IngestTask) error
}

// AccessChecker 判断用户能否操作归属于 ownerID 的资源。
type AccessChecker func(user *model.User, ownerID uint) bool

// OwnerOrAdmin 是默认的访问策略：资源属主或 ADMIN。
func OwnerOrAdmin(user *model.User, ownerID uint) bool {
	if user == nil {
		return false
	}
	return user.ID == ownerID || model.HasRole(user, "ADMIN")
}

// DocumentService 接口定义了文档生命周期相关的业务操作。
type DocumentService interface {
	Upload(ctx context.Context, user *model.User, fileName, contentType string, data []byte) (*model.Document, error)
	Get(ctx context.Context, user *model.User, documentID string) (*model.Document, error)
	List(ctx context.Context, user *model.User, skip, limit int) ([]*model.Document, int64, error)
	Delete(ctx context.Context, user *model.User, documentID string) error
}

type documentService struct {
	docRepo    repository.DocumentRepository
	blobs      storage.Store
	ingestor   *pipeline.Ingestor
	dispatcher TaskDispatcher
	canAccess  AccessChecker
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	docRepo repository.DocumentRepository,
	blobs storage.Store,
	ingestor *pipeline.Ingestor,
	dispatcher TaskDispatcher,
	canAccess AccessChecker,
) DocumentService {
	if canAccess == nil {
		canAccess = OwnerOrAdmin
	}
	return &documentService{
		docRepo:    docRepo,
		blobs:      blobs,
		ingestor:   ingestor,
		dispatcher: dispatcher,
		canAccess:  canAccess,
	}
}

// Upload 接收原始文件，登记元数据并派发摄取任务。
// 文档立即以 pending 状态返回，索引在后台异步构建。
func (s *documentService) Upload(ctx context.Context, user *model.User, fileName, contentType string, data []byte) (*model.Document, error) {
	if fileName == "" {
		return nil, apperr.New(apperr.KindValidation, "文件名不能为空")
	}
	if len(data) == 0 {
		return nil, apperr.New(apperr.KindValidation, "文件内容不能为空")
	}
	if len(data) > maxUploadSize {
		return nil, apperr.New(apperr.KindValidation, "文件超出大小限制").WithDetail("max_bytes", maxUploadSize)
	}
	if !tika.Supported(contentType) {
		return nil, apperr.New(apperr.KindUnsupportedFormat, "不支持的文件格式").WithDetail("content_type", contentType)
	}

	docID := uuid.NewString()
	objectKey := fmt.Sprintf("documents/%s/%s", docID, fileName)

	// 1. 原始文件入对象存储
	if err := s.blobs.Put(ctx, objectKey, data, contentType); err != nil {
		return nil, fmt.Errorf("保存原始文件失败: %w", err)
	}

	// 2. 登记文档元数据
	now := time.Now()
	doc := &model.Document{
		ID:          docID,
		OwnerID:     user.ID,
		FileName:    fileName,
		SourceURI:   objectKey,
		ContentType: contentType,
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("登记文档元数据失败: %w", err)
	}

	// 3. 派发摄取任务
	task := tasks.IngestTask{
		DocumentID:  docID,
		ObjectKey:   objectKey,
		FileName:    fileName,
		ContentType: contentType,
		OwnerID:     user.ID,
	}
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		log.Errorf("[DocumentService] 派发摄取任务失败, DocumentID: %s, Error: %v", docID, err)
		if uerr := s.docRepo.UpdateStatus(ctx, docID, model.StatusFailed, "任务派发失败"); uerr != nil {
			log.Errorf("[DocumentService] 标记文档失败状态出错: %v", uerr)
		}
		return nil, fmt.Errorf("派发摄取任务失败: %w", err)
	}

	log.Infof("[DocumentService] 文档已登记并派发摄取, DocumentID: %s, FileName: %s", docID, fileName)
	return doc, nil
}

// Get 查询单个文档的元数据与状态。
func (s *documentService) Get(ctx context.Context, user *model.User, documentID string) (*model.Document, error) {
	doc, err := s.docRepo.FindByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !s.canAccess(user, doc.OwnerID) {
		return nil, apperr.New(apperr.KindAuthorization, "无权访问该文档").WithDetail("document_id", documentID)
	}
	return doc, nil
}

// List 分页列出用户自己的文档。
func (s *documentService) List(ctx context.Context, user *model.User, skip, limit int) ([]*model.Document, int64, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.docRepo.ListByOwner(ctx, user.ID, skip, limit)
}

// Delete 删除文档及其在两个索引和对象存储中的全部数据。
// 索引清理放在最前，失败时元数据保留，删除可以重试。
func (s *documentService) Delete(ctx context.Context, user *model.User, documentID string) error {
	doc, err := s.docRepo.FindByID(ctx, documentID)
	if err != nil {
		return err
	}
	if !s.canAccess(user, doc.OwnerID) {
		return apperr.New(apperr.KindAuthorization, "无权删除该文档").WithDetail("document_id", documentID)
	}

	if err := s.ingestor.Purge(ctx, documentID); err != nil {
		return fmt.Errorf("清理索引数据失败: %w", err)
	}
	if err := s.blobs.Delete(ctx, doc.SourceURI); err != nil {
		log.Warnf("[DocumentService] 删除原始文件失败, ObjectKey: %s, Error: %v", doc.SourceURI, err)
	}
	if err := s.docRepo.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("删除文档元数据失败: %w", err)
	}
	log.Infof("[DocumentService] 文档已删除, DocumentID: %s", documentID)
	return nil
}
