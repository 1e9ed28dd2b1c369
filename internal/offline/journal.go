// internal/offline/journal.go
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Journal stores pending operations on the client. List returns them in
// creation order, by Seq.
type Journal interface {
	Append(ctx context.Context, op PendingOperation) error
	List(ctx context.Context) ([]PendingOperation, error)
	Update(ctx context.Context, op PendingOperation) error
	Remove(ctx context.Context, opID uuid.UUID) error
}

type MemoryJournal struct {
	mu  sync.Mutex
	ops map[uuid.UUID]PendingOperation
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{ops: make(map[uuid.UUID]PendingOperation)}
}

func (j *MemoryJournal) Append(_ context.Context, op PendingOperation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.append(op)
}

func (j *MemoryJournal) append(op PendingOperation) error {
	if _, ok := j.ops[op.OperationID]; ok {
		return errAlreadyQueued
	}
	j.ops[op.OperationID] = op
	return nil
}

func (j *MemoryJournal) List(_ context.Context) ([]PendingOperation, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.list(), nil
}

func (j *MemoryJournal) list() []PendingOperation {
	out := make([]PendingOperation, 0, len(j.ops))
	for _, op := range j.ops {
		out = append(out, op)
	}
	// Seq is assigned by the queue and never goes backwards, unlike the
	// terminal clock.
	sort.Slice(out, func(a, b int) bool {
		if out[a].Seq != out[b].Seq {
			return out[a].Seq < out[b].Seq
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

func (j *MemoryJournal) Update(_ context.Context, op PendingOperation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.update(op)
}

func (j *MemoryJournal) update(op PendingOperation) error {
	if _, ok := j.ops[op.OperationID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotQueued, op.OperationID)
	}
	j.ops[op.OperationID] = op
	return nil
}

func (j *MemoryJournal) Remove(_ context.Context, opID uuid.UUID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.remove(opID)
}

func (j *MemoryJournal) remove(opID uuid.UUID) error {
	if _, ok := j.ops[opID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotQueued, opID)
	}
	delete(j.ops, opID)
	return nil
}

// FileJournal keeps the journal in memory and rewrites a JSON snapshot after
// every change, so queued sales survive a restart of the terminal.
type FileJournal struct {
	mem  *MemoryJournal
	path string
}

type journalSnapshot struct {
	Operations []PendingOperation `json:"operations"`
}

// OpenFileJournal loads path if it exists.
func OpenFileJournal(path string) (*FileJournal, error) {
	j := &FileJournal{mem: NewMemoryJournal(), path: path}
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("read journal %s: %w", path, err)
	}
	if snap != nil {
		for _, op := range snap.Operations {
			j.mem.ops[op.OperationID] = op
		}
	}
	return j, nil
}

func (j *FileJournal) Append(_ context.Context, op PendingOperation) error {
	j.mem.mu.Lock()
	defer j.mem.mu.Unlock()
	if err := j.mem.append(op); err != nil {
		return err
	}
	if err := j.persist(); err != nil {
		delete(j.mem.ops, op.OperationID)
		return err
	}
	return nil
}

func (j *FileJournal) List(ctx context.Context) ([]PendingOperation, error) {
	return j.mem.List(ctx)
}

func (j *FileJournal) Update(_ context.Context, op PendingOperation) error {
	j.mem.mu.Lock()
	defer j.mem.mu.Unlock()
	prev, ok := j.mem.ops[op.OperationID]
	if err := j.mem.update(op); err != nil {
		return err
	}
	if err := j.persist(); err != nil {
		if ok {
			j.mem.ops[op.OperationID] = prev
		}
		return err
	}
	return nil
}

func (j *FileJournal) Remove(_ context.Context, opID uuid.UUID) error {
	j.mem.mu.Lock()
	defer j.mem.mu.Unlock()
	prev := j.mem.ops[opID]
	if err := j.mem.remove(opID); err != nil {
		return err
	}
	if err := j.persist(); err != nil {
		j.mem.ops[opID] = prev
		return err
	}
	return nil
}

// persist runs with the journal lock held.
func (j *FileJournal) persist() error {
	return writeSnapshot(j.path, journalSnapshot{Operations: j.mem.list()})
}

func readSnapshot(path string) (*journalSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var snap journalSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func writeSnapshot(path string, snap journalSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	temp := path + ".tmp"
	if err := os.WriteFile(temp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(temp, path)
}
