package inbound

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-relay/core"
)

const (
	EventChatMessage         = "chat.message"
	EventVectorFileCompleted = "vector_store.file.completed"
	EventVectorFileFailed    = "vector_store.file.failed"
	EventTrigger             = "trigger"

	IngestionStatusCompleted = "completed"
	IngestionStatusFailed    = "failed"
)

type ChatReply struct {
	ConversationID string `json:"conversation_id"`
	Response       string `json:"response"`
}

// ChatService answers chat-message events.
type ChatService interface {
	Handle(ctx context.Context, data map[string]any) (ChatReply, error)
}

type IngestionStatusUpdater interface {
	UpdateIngestionStatus(ctx context.Context, fileID string, status string, errText string) error
}

type StoredFile struct {
	ID         string
	ProviderID string
}

// FileLookup resolves provider file ids to stored files. A missing file
// returns found=false.
type FileLookup interface {
	FindByProviderID(ctx context.Context, providerID string) (file StoredFile, found bool, err error)
}

type Action func(ctx context.Context, params map[string]any) (map[string]any, error)

type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{actions: map[string]Action{}}
}

func (r *ActionRegistry) Register(name string, action Action) error {
	name = strings.TrimSpace(name)
	if name == "" || action == nil {
		return inboundBadInput("inbound: action name and func are required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.actions == nil {
		r.actions = map[string]Action{}
	}
	r.actions[name] = action
	return nil
}

func (r *ActionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *ActionRegistry) lookup(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	action, ok := r.actions[name]
	return action, ok
}

// Builtins wires the standard event mappings. Nil collaborators are skipped.
type Builtins struct {
	Chat      ChatService
	Ingestion IngestionStatusUpdater
	Files     FileLookup
	Actions   *ActionRegistry
}

func (b Builtins) Register(router *Router) error {
	if b.Chat != nil {
		if err := router.Register(EventChatMessage, HandlerFunc(b.handleChat)); err != nil {
			return err
		}
	}
	if b.Ingestion != nil && b.Files != nil {
		if err := router.Register(EventVectorFileCompleted, b.ingestionHandler(IngestionStatusCompleted)); err != nil {
			return err
		}
		if err := router.Register(EventVectorFileFailed, b.ingestionHandler(IngestionStatusFailed)); err != nil {
			return err
		}
	}
	if b.Actions != nil {
		if err := router.Register(EventTrigger, HandlerFunc(b.handleTrigger)); err != nil {
			return err
		}
	}
	return nil
}

func (b Builtins) handleChat(ctx context.Context, event NormalizedEvent) (map[string]any, error) {
	reply, err := b.Chat.Handle(ctx, core.CloneMap(event.Data))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"conversation_id": reply.ConversationID,
		"response":        reply.Response,
	}, nil
}

func (b Builtins) ingestionHandler(status string) Handler {
	return HandlerFunc(func(ctx context.Context, event NormalizedEvent) (map[string]any, error) {
		providerID := firstString(event.Data, "file_id", "id")
		if providerID == "" {
			return nil, core.Permanent(inboundBadInput("inbound: file id is required", map[string]any{"event_id": event.EventID}))
		}
		file, found, err := b.Files.FindByProviderID(ctx, providerID)
		if err != nil {
			return nil, err
		}
		if !found {
			return map[string]any{"updated": false, "provider_file_id": providerID, "reason": "file_not_found"}, nil
		}
		errText := ""
		if status == IngestionStatusFailed {
			errText = firstString(event.Data, "error", "last_error")
			if errText == "" {
				if nested, ok := event.Data["last_error"].(map[string]any); ok {
					errText = firstString(nested, "message", "code")
				}
			}
		}
		if err := b.Ingestion.UpdateIngestionStatus(ctx, file.ID, status, errText); err != nil {
			return nil, err
		}
		return map[string]any{"updated": true, "file_id": file.ID, "status": status}, nil
	})
}

func (b Builtins) handleTrigger(ctx context.Context, event NormalizedEvent) (map[string]any, error) {
	name := firstString(event.Data, "action")
	action, ok := b.Actions.lookup(name)
	if !ok {
		return nil, core.Permanent(inboundBadInput(fmt.Sprintf("inbound: unknown trigger action %q", name), map[string]any{
			"event_id": event.EventID,
			"action":   name,
		}))
	}
	params, _ := event.Data["params"].(map[string]any)
	output, err := action(ctx, core.CloneMap(params))
	if err != nil {
		return nil, err
	}
	return map[string]any{"action": name, "output": output}, nil
}

func firstString(values map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := values[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
