package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"doclens-go/internal/config"
	"doclens-go/internal/model"
	"doclens-go/pkg/tasks"
)

type fakeDocStore struct {
	objects map[string][]byte
	removed []string
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{objects: map[string][]byte{}}
}

func (s *fakeDocStore) UploadObject(ctx context.Context, objectName string, data []byte, contentType string) error {
	s.objects[objectName] = data
	return nil
}

func (s *fakeDocStore) RemoveObject(ctx context.Context, objectName string) error {
	delete(s.objects, objectName)
	return nil
}

func (s *fakeDocStore) RemoveByPrefix(ctx context.Context, prefix string) error {
	s.removed = append(s.removed, prefix)
	return nil
}

func (s *fakeDocStore) GetPresignedURL(objectName string, expiry time.Duration) (string, error) {
	return "https://storage.example.com/" + objectName + "?signed", nil
}

type fakeDocIndex struct {
	deletes []string
}

func (i *fakeDocIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	i.deletes = append(i.deletes, documentID)
	return nil
}

func docTestConfig() config.IngestConfig {
	return config.IngestConfig{MaxUploadSizeMB: 1, PageImageURLExpireMin: 60}
}

func TestUploadProducesIngestTask(t *testing.T) {
	_, repo := newServiceTestRepo(t)
	store := newFakeDocStore()
	var produced []tasks.IngestTask
	svc := NewDocumentService(repo, store, &fakeDocIndex{}, func(task tasks.IngestTask) error {
		produced = append(produced, task)
		return nil
	}, docTestConfig())

	user := &model.User{ID: 1, Username: "alice"}
	doc, err := svc.Upload(context.Background(), user, "Report.PDF", []byte("%PDF-1.7"), "application/pdf")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if doc.Status != model.DocStatusPending {
		t.Errorf("status = %s, want %s", doc.Status, model.DocStatusPending)
	}
	if doc.OwnerID != 1 || doc.OriginalFilename != "Report.PDF" {
		t.Errorf("document = %+v", doc)
	}
	if _, ok := store.objects[doc.StoragePath]; !ok {
		t.Error("original file should be stored")
	}
	if len(produced) != 1 {
		t.Fatalf("produced %d tasks, want 1", len(produced))
	}
	if produced[0].DocumentID != doc.ID || produced[0].OwnerID != 1 {
		t.Errorf("task = %+v", produced[0])
	}
}

func TestUploadRejectsInvalidInput(t *testing.T) {
	_, repo := newServiceTestRepo(t)
	svc := NewDocumentService(repo, newFakeDocStore(), &fakeDocIndex{}, func(tasks.IngestTask) error { return nil }, docTestConfig())
	user := &model.User{ID: 1, Username: "alice"}

	if _, err := svc.Upload(context.Background(), user, "notes.txt", []byte("text"), "text/plain"); !errors.Is(err, ErrInvalidFileType) {
		t.Errorf("non-PDF upload error = %v, want ErrInvalidFileType", err)
	}

	big := make([]byte, 2*1024*1024)
	if _, err := svc.Upload(context.Background(), user, "big.pdf", big, "application/pdf"); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("oversized upload error = %v, want ErrFileTooLarge", err)
	}
}

func TestUploadRecordFailureRemovesStoredObject(t *testing.T) {
	db, repo := newServiceTestRepo(t)
	store := newFakeDocStore()
	svc := NewDocumentService(repo, store, &fakeDocIndex{}, func(tasks.IngestTask) error { return nil }, docTestConfig())

	// 让落库必然失败
	if err := db.Migrator().DropTable(&model.Document{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	user := &model.User{ID: 1, Username: "alice"}
	if _, err := svc.Upload(context.Background(), user, "report.pdf", []byte("%PDF-1.7"), "application/pdf"); err == nil {
		t.Fatal("expected create failure to surface")
	}
	if len(store.objects) != 0 {
		t.Errorf("uploaded object should be cleaned up, %d remain", len(store.objects))
	}
}

func TestUploadProduceFailureMarksDocumentFailed(t *testing.T) {
	_, repo := newServiceTestRepo(t)
	svc := NewDocumentService(repo, newFakeDocStore(), &fakeDocIndex{}, func(tasks.IngestTask) error {
		return errors.New("broker down")
	}, docTestConfig())

	user := &model.User{ID: 1, Username: "alice"}
	if _, err := svc.Upload(context.Background(), user, "report.pdf", []byte("%PDF-1.7"), "application/pdf"); err == nil {
		t.Fatal("expected produce failure to surface")
	}

	docs, err := repo.FindByOwner(1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("document count = %d, want 1", len(docs))
	}
	if docs[0].Status != model.DocStatusFailed {
		t.Errorf("status = %s, want %s", docs[0].Status, model.DocStatusFailed)
	}
}

func TestDeleteCleansUpEverything(t *testing.T) {
	_, repo := newServiceTestRepo(t)
	seedIndexedDocument(t, repo, "doc-del", 1, []string{"content"})

	store := newFakeDocStore()
	index := &fakeDocIndex{}
	svc := NewDocumentService(repo, store, index, func(tasks.IngestTask) error { return nil }, docTestConfig())

	user := &model.User{ID: 1, Username: "alice"}
	if err := svc.Delete(context.Background(), user, "doc-del"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := repo.FindByID("doc-del"); err == nil {
		t.Error("document record should be gone")
	}
	if len(index.deletes) != 1 || index.deletes[0] != "doc-del" {
		t.Errorf("index deletes = %v", index.deletes)
	}
	if len(store.removed) != 1 || store.removed[0] != "documents/1/doc-del/" {
		t.Errorf("removed prefixes = %v", store.removed)
	}

	// 他人文档不可删除
	seedIndexedDocument(t, repo, "doc-other", 2, []string{"content"})
	if err := svc.Delete(context.Background(), user, "doc-other"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("cross-owner delete error = %v, want ErrDocumentNotFound", err)
	}
}

func TestPageImageRequiresOwnershipAndImage(t *testing.T) {
	_, repo := newServiceTestRepo(t)
	seedIndexedDocument(t, repo, "doc-img", 1, []string{"content"})

	svc := NewDocumentService(repo, newFakeDocStore(), &fakeDocIndex{}, func(tasks.IngestTask) error { return nil }, docTestConfig())

	dto, err := svc.PageImage(&model.User{ID: 1, Username: "alice"}, "doc-img", 1)
	if err != nil {
		t.Fatalf("PageImage: %v", err)
	}
	if dto.ImageURL == "" || dto.PageNumber != 1 {
		t.Errorf("dto = %+v", dto)
	}

	if _, err := svc.PageImage(&model.User{ID: 2, Username: "bob"}, "doc-img", 1); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("cross-owner access error = %v, want ErrDocumentNotFound", err)
	}
	if _, err := svc.PageImage(&model.User{ID: 1, Username: "alice"}, "doc-img", 99); err == nil {
		t.Error("missing page should error")
	}
}
