package publish

import (
	"context"
	"log"
	"time"

	"tgmirror/internal/media"
)

// MaxBatchItems is the platform ceiling for one media group.
const MaxBatchItems = 10

// Batch is a set of staged items released for fan-out together.
type Batch struct {
	GroupID string
	Items   []*StagedItem
}

type groupBuffer struct {
	items []*StagedItem
}

type pendingBatch struct {
	class     media.AlbumClass
	items     []*StagedItem
	timer     *time.Timer
	createdAt time.Time
}

// addToBatch routes a staged item into the assembler for the active mode and
// returns a batch when one became ready, nil otherwise.
func (p *Publisher) addToBatch(staged *StagedItem) *Batch {
	if p.cfg.PreserveStructure {
		return p.addPreserving(staged)
	}
	return p.addLegacy(staged)
}

// addPreserving keeps original group boundaries: a batch is exactly one
// original media group, released when all its members have been staged.
// Items that were never grouped are their own batch of one.
func (p *Publisher) addPreserving(staged *StagedItem) *Batch {
	if staged.GroupID == "" {
		return &Batch{Items: []*StagedItem{staged}}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	buf := p.buffers[staged.GroupID]
	if buf == nil {
		buf = &groupBuffer{}
		p.buffers[staged.GroupID] = buf
	}
	buf.items = append(buf.items, staged)

	want := p.expected[staged.GroupID]
	if want == 0 {
		// Size unknown; the platform cap is the only release point until Flush.
		want = MaxBatchItems
	}
	if len(buf.items) < want {
		return nil
	}
	delete(p.buffers, staged.GroupID)
	return &Batch{GroupID: staged.GroupID, Items: buf.items}
}

// addLegacy packs items by album class up to the batch size. A partial batch
// left alone for the stale window is flushed by timer so trailing items are
// never stranded.
func (p *Publisher) addLegacy(staged *StagedItem) *Batch {
	class := media.Lookup(staged.Kind).Album

	p.mu.Lock()
	defer p.mu.Unlock()

	pb := p.classBatches[class]
	if pb == nil {
		pb = &pendingBatch{class: class, createdAt: time.Now()}
		pb.timer = time.AfterFunc(p.cfg.StaleFlush, func() { p.flushClass(class) })
		p.classBatches[class] = pb
	}
	pb.items = append(pb.items, staged)

	if len(pb.items) < p.cfg.BatchSize {
		return nil
	}
	pb.timer.Stop()
	delete(p.classBatches, class)
	return &Batch{Items: pb.items}
}

// flushClass is the stale-timer callback for one album class.
func (p *Publisher) flushClass(class media.AlbumClass) {
	p.mu.Lock()
	pb := p.classBatches[class]
	delete(p.classBatches, class)
	p.mu.Unlock()
	if pb == nil || len(pb.items) == 0 {
		return
	}
	log.Printf("[Publisher] flushing stale %s batch of %d item(s) after %s",
		class, len(pb.items), time.Since(pb.createdAt).Round(time.Second))
	if err := p.deliver(p.runCtx(), &Batch{Items: pb.items}); err != nil {
		log.Printf("[Publisher] stale %s batch delivery failed: %v", class, err)
	}
}

// Flush delivers everything still buffered. In structure-preserving mode an
// incomplete group (a member never arrived) is discarded rather than published
// truncated; legacy partial batches always go out.
func (p *Publisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	var ready []*Batch
	var aborted []*groupBuffer
	for gid, buf := range p.buffers {
		want := p.expected[gid]
		if want > 0 && len(buf.items) < want {
			log.Printf("[Publisher Group:%s] incomplete at shutdown (%d of %d staged), discarding", gid, len(buf.items), want)
			aborted = append(aborted, buf)
			continue
		}
		ready = append(ready, &Batch{GroupID: gid, Items: buf.items})
	}
	p.buffers = make(map[string]*groupBuffer)
	for class, pb := range p.classBatches {
		pb.timer.Stop()
		if len(pb.items) > 0 {
			ready = append(ready, &Batch{Items: pb.items})
		}
		delete(p.classBatches, class)
	}
	p.mu.Unlock()

	for _, buf := range aborted {
		p.itemsFailed.Add(int64(len(buf.items)))
		if p.cfg.CleanupAfterFailure {
			p.deleteScratch(ctx, buf.items)
		}
	}

	var firstErr error
	for _, b := range ready {
		if err := p.deliver(ctx, b); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
