package store

import (
	"context"
	"sort"
	"time"
)

// FakeStore is an in-memory Store used by graph and httpapi tests,
// grounded on the interface-backed fakes used throughout agent/evals
// instead of live database containers.
type FakeStore struct {
	Messages  []ChatMessage
	LogRows   []WorkflowLogEntry
	nextID    int64
	FailNextPersist bool
}

func NewFakeStore() *FakeStore {
	return &FakeStore{}
}

func (f *FakeStore) LastUserMessages(ctx context.Context, sessionID string, n int) ([]string, error) {
	var all []string
	for _, m := range f.Messages {
		if m.SessionID == sessionID && m.Role == "user" {
			all = append(all, m.Content)
		}
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (f *FakeStore) Persist(ctx context.Context, req PersistRequest) error {
	if f.FailNextPersist {
		f.FailNextPersist = false
		return errPersistFailed
	}
	now := time.Now()
	f.nextID++
	f.Messages = append(f.Messages, ChatMessage{
		ID: f.nextID, AdminID: req.AdminID, SessionID: req.SessionID,
		Role: "user", Content: req.UserMessage, ModelName: req.ModelName, CreatedAt: now,
	})
	f.nextID++
	f.Messages = append(f.Messages, ChatMessage{
		ID: f.nextID, AdminID: req.AdminID, SessionID: req.SessionID,
		Role: "assistant", Content: req.AssistantReply, ModelName: req.ModelName, CreatedAt: now,
	})
	f.LogRows = append(f.LogRows, req.WorkflowLogs...)
	return nil
}

func (f *FakeStore) ListSessions(ctx context.Context, adminID int64, offset, limit int) ([]SessionPreview, error) {
	seen := make(map[string]bool)
	var out []SessionPreview
	for _, m := range f.Messages {
		if m.AdminID != adminID || m.Role != "user" || seen[m.SessionID] {
			continue
		}
		seen[m.SessionID] = true
		out = append(out, SessionPreview{SessionID: m.SessionID, Preview: truncatePreview(m.Content), CreatedAt: m.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, offset, limit), nil
}

func (f *FakeStore) ListMessages(ctx context.Context, adminID int64, sessionID string, offset, limit int) ([]ChatMessage, error) {
	var out []ChatMessage
	for _, m := range f.Messages {
		if m.AdminID == adminID && m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return page(out, offset, limit), nil
}

func (f *FakeStore) SoftDeleteSession(ctx context.Context, adminID int64, sessionID string) error {
	kept := f.Messages[:0]
	for _, m := range f.Messages {
		if m.AdminID == adminID && m.SessionID == sessionID {
			continue
		}
		kept = append(kept, m)
	}
	f.Messages = kept
	return nil
}

func (f *FakeStore) SoftDeleteAllSessions(ctx context.Context, adminID int64) error {
	kept := f.Messages[:0]
	for _, m := range f.Messages {
		if m.AdminID == adminID {
			continue
		}
		kept = append(kept, m)
	}
	f.Messages = kept
	return nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

type persistError string

func (e persistError) Error() string { return string(e) }

const errPersistFailed = persistError("fake store: forced persist failure")
