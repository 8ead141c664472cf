package journal

import (
	"context"
	"sync"
	"time"

	"github.com/robustmq/robustmq/internal/types"
	"github.com/robustmq/robustmq/pkg/log"
)

// MetaClient is the subset of the meta client the scroll manager needs:
// ask for a new segment once the active one is filling up, and push the
// status transitions that hand write duty over to it.
type MetaClient interface {
	CreateNextSegment(ctx context.Context, cluster, namespace, shardName string) error
	UpdateSegmentStatus(ctx context.Context, cluster, namespace, shardName string, seq uint32, status types.SegmentStatus) error
}

// ScrollManager watches this node's leader segments and rolls each one
// over before it fills: at 50% of MaxSegmentSize it asks meta for the
// next segment, and at 90% it seals the active segment and flips
// writing over to the one meta already created.
type ScrollManager struct {
	cluster       string
	cache         *Cache
	meta          MetaClient
	maxSegmentSize int64
	localNodeID    uint64

	mu             sync.Mutex
	rolled50       map[string]bool
	sealedAt90     map[string]bool

	stopCh chan struct{}
}

func NewScrollManager(cluster string, cache *Cache, meta MetaClient, maxSegmentSize int64, localNodeID uint64) *ScrollManager {
	return &ScrollManager{
		cluster: cluster, cache: cache, meta: meta, maxSegmentSize: maxSegmentSize, localNodeID: localNodeID,
		rolled50: make(map[string]bool), sealedAt90: make(map[string]bool),
		stopCh: make(chan struct{}),
	}
}

// Start runs the sweep on a 1-second tick, matching the teacher source's
// polling interval for this loop.
func (m *ScrollManager) Start(sizeOf func(types.Segment) (int64, error)) {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep(sizeOf)
			case <-m.stopCh:
				return
			}
		}
	}()
}

func (m *ScrollManager) Stop() {
	close(m.stopCh)
}

func (m *ScrollManager) sweep(sizeOf func(types.Segment) (int64, error)) {
	for _, seg := range m.cache.LeaderSegments() {
		name := seg.SegmentName()

		m.mu.Lock()
		at50, at90 := m.rolled50[name], m.sealedAt90[name]
		m.mu.Unlock()
		if at50 && at90 {
			continue
		}

		size, err := sizeOf(seg)
		if err != nil {
			log.Error("scroll: stat segment " + name + ": " + err.Error())
			continue
		}

		ratio := float64(size) / float64(m.maxSegmentSize)

		if !at50 && ratio >= 0.5 {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := m.meta.CreateNextSegment(ctx, m.cluster, seg.Namespace, seg.ShardName)
			cancel()
			if err != nil {
				log.Error("scroll: create next segment for " + name + ": " + err.Error())
				continue
			}
			m.mu.Lock()
			m.rolled50[name] = true
			m.mu.Unlock()
		}

		if !at90 && ratio >= 0.9 {
			if err := m.rollToSealed(seg); err != nil {
				log.Error("scroll: seal " + name + ": " + err.Error())
				continue
			}
			m.mu.Lock()
			m.sealedAt90[name] = true
			m.mu.Unlock()
		}
	}
}

// rollToSealed transitions the active segment write -> pre_seal_up and
// the next segment pre_write -> write, so writers hand off cleanly
// instead of racing a still-active writer against a new one.
func (m *ScrollManager) rollToSealed(active types.Segment) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.meta.UpdateSegmentStatus(ctx, m.cluster, active.Namespace, active.ShardName, active.SegmentSeq, types.SegmentPreSealUp); err != nil {
		return err
	}

	next, ok := m.cache.GetSegment(active.Namespace, active.ShardName, active.SegmentSeq+1)
	if !ok {
		log.Warn("scroll: next segment not yet visible in cache for " + active.SegmentName())
		return nil
	}
	return m.meta.UpdateSegmentStatus(ctx, m.cluster, next.Namespace, next.ShardName, next.SegmentSeq, types.SegmentWrite)
}
