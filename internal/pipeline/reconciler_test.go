package pipeline

import (
	"testing"
	"time"

	"doclens-go/internal/config"
	"doclens-go/internal/model"
	"doclens-go/pkg/tasks"
)

func TestSweepOnceRequeuesStaleDocuments(t *testing.T) {
	db, repo := newTestRepo(t)
	stale := seedDocument(t, repo, "doc-stuck")
	fresh := seedDocument(t, repo, "doc-active")
	for _, id := range []string{stale.ID, fresh.ID} {
		if ok, err := repo.ClaimForProcessing(id); err != nil || !ok {
			t.Fatalf("claim %s: ok=%v err=%v", id, ok, err)
		}
	}
	// 只把一个文档的更新时间拨回过去
	if err := db.Model(&model.Document{}).Where("id = ?", stale.ID).
		UpdateColumn("updated_at", time.Now().Add(-2*time.Hour)).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}

	var produced []tasks.IngestTask
	cfg := config.IngestConfig{StaleAfterMinutes: 30, SweepIntervalMinutes: 5}
	r := NewReconciler(repo, func(task tasks.IngestTask) error {
		produced = append(produced, task)
		return nil
	}, cfg)

	r.SweepOnce()

	if len(produced) != 1 {
		t.Fatalf("produced %d tasks, want 1", len(produced))
	}
	if produced[0].DocumentID != stale.ID || produced[0].OwnerID != stale.OwnerID {
		t.Errorf("task = %+v", produced[0])
	}

	got, err := repo.FindByID(stale.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != model.DocStatusPending {
		t.Errorf("stale document status = %s, want %s", got.Status, model.DocStatusPending)
	}
	active, err := repo.FindByID(fresh.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if active.Status != model.DocStatusProcessing {
		t.Errorf("fresh document status = %s, want %s", active.Status, model.DocStatusProcessing)
	}
}

func TestSweepOnceNoStaleDocuments(t *testing.T) {
	_, repo := newTestRepo(t)
	doc := seedDocument(t, repo, "doc-idle")
	if ok, err := repo.ClaimForProcessing(doc.ID); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	produced := 0
	cfg := config.IngestConfig{StaleAfterMinutes: 30, SweepIntervalMinutes: 5}
	r := NewReconciler(repo, func(tasks.IngestTask) error {
		produced++
		return nil
	}, cfg)

	r.SweepOnce()
	if produced != 0 {
		t.Errorf("produced %d tasks, want 0", produced)
	}
}
