package pipeline

import (
	"time"

	"doclens-go/internal/config"
	"doclens-go/internal/repository"
	"doclens-go/pkg/log"
	"doclens-go/pkg/tasks"
)

// taskProducer 把一个摄取任务重新投递到消息队列。
type taskProducer func(task tasks.IngestTask) error

// Reconciler 周期性扫描停留在 processing 状态过久的文档。
// 摄取进程崩溃会让文档卡在 processing，扫描把它们重置回 pending 并重新投递。
type Reconciler struct {
	docRepo  repository.DocumentRepository
	produce  taskProducer
	staleDur time.Duration
	interval time.Duration
}

// NewReconciler 创建一个新的 Reconciler 实例。
func NewReconciler(docRepo repository.DocumentRepository, produce taskProducer, cfg config.IngestConfig) *Reconciler {
	return &Reconciler{
		docRepo:  docRepo,
		produce:  produce,
		staleDur: time.Duration(cfg.StaleAfterMinutes) * time.Minute,
		interval: time.Duration(cfg.SweepIntervalMinutes) * time.Minute,
	}
}

// Start 启动后台扫描循环，关闭 stop 通道时退出。
func (r *Reconciler) Start(stop <-chan struct{}) {
	log.Infof("[Reconciler] 后台扫描已启动, 间隔: %s, 过期阈值: %s", r.interval, r.staleDur)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			log.Info("[Reconciler] 后台扫描已停止")
			return
		case <-ticker.C:
			r.SweepOnce()
		}
	}
}

// SweepOnce 执行一次过期文档回收：重置状态并重新投递摄取任务。
func (r *Reconciler) SweepOnce() {
	olderThan := time.Now().Add(-r.staleDur)
	released, err := r.docRepo.ReleaseStale(olderThan)
	if err != nil {
		log.Errorf("[Reconciler] 回收过期处理中文档失败: %v", err)
		return
	}
	if len(released) == 0 {
		return
	}

	log.Infof("[Reconciler] 回收了 %d 个过期的处理中文档", len(released))
	for _, documentID := range released {
		doc, err := r.docRepo.FindByID(documentID)
		if err != nil {
			log.Errorf("[Reconciler] 读取文档 %s 失败, 无法重新投递: %v", documentID, err)
			continue
		}
		task := tasks.IngestTask{
			DocumentID: doc.ID,
			OwnerID:    doc.OwnerID,
			FileName:   doc.OriginalFilename,
		}
		if err := r.produce(task); err != nil {
			log.Errorf("[Reconciler] 重新投递文档 %s 的摄取任务失败: %v", documentID, err)
			continue
		}
		log.Infof("[Reconciler] 已重新投递文档 %s 的摄取任务", documentID)
	}
}
