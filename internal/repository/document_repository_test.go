package repository

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"doclens-go/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) (*gorm.DB, DocumentRepository) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("raw db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&model.Document{}, &model.DocumentPage{}, &model.DocumentChunk{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db, NewDocumentRepository(db)
}

func createDoc(t *testing.T, repo DocumentRepository, id, status string) {
	t.Helper()
	err := repo.Create(&model.Document{
		ID:               id,
		OwnerID:          1,
		OriginalFilename: id + ".pdf",
		StoredFilename:   id + ".pdf",
		StoragePath:      "documents/1/" + id + "/original.pdf",
		MimeType:         "application/pdf",
		Status:           status,
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
}

func TestClaimForProcessing(t *testing.T) {
	_, repo := newTestDB(t)
	createDoc(t, repo, "doc-1", model.DocStatusPending)

	claimed, err := repo.ClaimForProcessing("doc-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed {
		t.Fatal("first claim on pending document should succeed")
	}

	// 已经 processing 的文档不能被再次抢占
	claimed, err = repo.ClaimForProcessing("doc-1")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Error("second claim should fail")
	}

	createDoc(t, repo, "doc-2", model.DocStatusCompleted)
	claimed, err = repo.ClaimForProcessing("doc-2")
	if err != nil {
		t.Fatalf("claim completed: %v", err)
	}
	if claimed {
		t.Error("completed document should not be claimable")
	}

	claimed, err = repo.ClaimForProcessing("doc-missing")
	if err != nil {
		t.Fatalf("claim missing: %v", err)
	}
	if claimed {
		t.Error("missing document should not be claimable")
	}
}

func TestReleaseStale(t *testing.T) {
	db, repo := newTestDB(t)
	createDoc(t, repo, "doc-stale", model.DocStatusProcessing)
	createDoc(t, repo, "doc-fresh", model.DocStatusProcessing)
	createDoc(t, repo, "doc-done", model.DocStatusCompleted)

	// 把滞留文档的更新时间拨回过去
	old := time.Now().Add(-2 * time.Hour)
	if err := db.Model(&model.Document{}).Where("id = ?", "doc-stale").
		UpdateColumn("updated_at", old).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}

	ids, err := repo.ReleaseStale(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("release stale: %v", err)
	}
	if len(ids) != 1 || ids[0] != "doc-stale" {
		t.Fatalf("released = %v, want [doc-stale]", ids)
	}

	released, err := repo.FindByID("doc-stale")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if released.Status != model.DocStatusPending {
		t.Errorf("status = %s, want %s", released.Status, model.DocStatusPending)
	}
	fresh, err := repo.FindByID("doc-fresh")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh.Status != model.DocStatusProcessing {
		t.Errorf("fresh document should stay processing, got %s", fresh.Status)
	}
}

func TestUpsertPageIsIdempotent(t *testing.T) {
	_, repo := newTestDB(t)
	createDoc(t, repo, "doc-1", model.DocStatusProcessing)

	first := &model.DocumentPage{DocumentID: "doc-1", PageNumber: 1, ImagePath: "old.png", Width: 600, Height: 800}
	if err := repo.UpsertPage(first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second := &model.DocumentPage{DocumentID: "doc-1", PageNumber: 1, ImagePath: "new.png", Width: 800, Height: 1100}
	if err := repo.UpsertPage(second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	pages, err := repo.FindPages("doc-1")
	if err != nil {
		t.Fatalf("find pages: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("page count = %d, want 1", len(pages))
	}
	if pages[0].ImagePath != "new.png" || pages[0].Width != 800 {
		t.Errorf("page not overwritten: %+v", pages[0])
	}
}

func TestReplaceChunksDoesNotAccumulate(t *testing.T) {
	_, repo := newTestDB(t)
	createDoc(t, repo, "doc-1", model.DocStatusProcessing)

	makeChunks := func(n int) []*model.DocumentChunk {
		chunks := make([]*model.DocumentChunk, 0, n)
		for i := 0; i < n; i++ {
			chunk := &model.DocumentChunk{DocumentID: "doc-1", ChunkIndex: i, Content: fmt.Sprintf("chunk %d", i), ChunkType: model.ChunkTypeText}
			chunk.SetPageNumbers([]int{1})
			chunks = append(chunks, chunk)
		}
		return chunks
	}

	if err := repo.ReplaceChunks("doc-1", makeChunks(4)); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	if err := repo.ReplaceChunks("doc-1", makeChunks(2)); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	chunks, err := repo.FindChunks("doc-1")
	if err != nil {
		t.Fatalf("find chunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Errorf("chunk count = %d, want 2", len(chunks))
	}
}

func TestChunkVectorIDLifecycle(t *testing.T) {
	_, repo := newTestDB(t)
	createDoc(t, repo, "doc-1", model.DocStatusProcessing)

	chunk := &model.DocumentChunk{DocumentID: "doc-1", ChunkIndex: 0, Content: "c", ChunkType: model.ChunkTypeText}
	chunk.SetPageNumbers([]int{1})
	if err := repo.ReplaceChunks("doc-1", []*model.DocumentChunk{chunk}); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}

	missing, err := repo.CountChunksMissingVector("doc-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if missing != 1 {
		t.Fatalf("missing = %d, want 1", missing)
	}

	if err := repo.SetChunkVectorID("doc-1", 0, "doc-1_0"); err != nil {
		t.Fatalf("set vector id: %v", err)
	}
	missing, _ = repo.CountChunksMissingVector("doc-1")
	if missing != 0 {
		t.Errorf("missing = %d, want 0", missing)
	}

	found, err := repo.FindChunksByVectorIDs([]string{"doc-1_0"})
	if err != nil {
		t.Fatalf("find by vector ids: %v", err)
	}
	if len(found) != 1 || found[0].ChunkIndex != 0 {
		t.Errorf("found = %+v", found)
	}

	if err := repo.ClearChunkVectorIDs("doc-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	missing, _ = repo.CountChunksMissingVector("doc-1")
	if missing != 1 {
		t.Errorf("missing after clear = %d, want 1", missing)
	}
}
