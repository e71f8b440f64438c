package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	domain "github.com/hanko-field/order-engine/internal/domain"
)

const (
	statusEntryKey = "id"
	ledgerEntryKey = "eventId"
	auditEntryKey  = "id"
)

// Replica is a receiver-side copy of one order kept as a generic JSON tree.
// It applies patch envelopes without knowing the order schema beyond the
// three append-only logs.
type Replica struct {
	mu      sync.RWMutex
	doc     map[string]any
	version int64
}

// NewReplica seeds a replica from a full order read.
func NewReplica(order domain.Order) (*Replica, error) {
	doc, err := toTree(order)
	if err != nil {
		return nil, fmt.Errorf("realtime: encode order: %w", err)
	}
	tree, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("realtime: order encoded as %T", doc)
	}
	return &Replica{doc: tree, version: order.Version}, nil
}

// Version is the version of the last applied patch or the seed order.
func (r *Replica) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Get reads the value at a dot path.
func (r *Replica) Get(path string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var node any = r.doc
	for _, key := range strings.Split(path, ".") {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		if node, ok = obj[key]; !ok {
			return nil, false
		}
	}
	return node, true
}

// Entries returns the log at path, for example "financials.eventHistory".
func (r *Replica) Entries(path string) []map[string]any {
	value, ok := r.Get(path)
	if !ok {
		return nil
	}
	list, _ := value.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if entry, ok := item.(map[string]any); ok {
			out = append(out, entry)
		}
	}
	return out
}

// Apply merges patch into the replica. Patches at or below the local version
// are ignored and reported as not applied. A patch that fails part way leaves
// the replica untouched.
func (r *Replica) Apply(patch domain.Patch) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if patch.Version <= r.version {
		return false, nil
	}

	doc := cloneTree(r.doc).(map[string]any)

	for _, fp := range patch.FieldPatches {
		value, err := toTree(fp.Value)
		if err != nil {
			return false, fmt.Errorf("realtime: encode %s: %w", fp.Path, err)
		}
		if err := setPath(doc, fp.Path, value); err != nil {
			return false, err
		}
	}
	if patch.AppendedStatusEntry != nil {
		if err := appendEntry(doc, domain.PathStatusHistory, statusEntryKey, *patch.AppendedStatusEntry); err != nil {
			return false, err
		}
	}
	if patch.AppendedEventEntry != nil {
		if err := appendEntry(doc, domain.PathEventHistory, ledgerEntryKey, *patch.AppendedEventEntry); err != nil {
			return false, err
		}
	}
	if patch.VoidedEventEntry != nil {
		if err := replaceEntry(doc, domain.PathEventHistory, ledgerEntryKey, *patch.VoidedEventEntry); err != nil {
			return false, err
		}
	}
	if patch.AppendedAuditEntry != nil {
		if err := appendEntry(doc, domain.PathAuditLog, auditEntryKey, *patch.AppendedAuditEntry); err != nil {
			return false, err
		}
	}
	r.doc = doc
	r.version = patch.Version
	return true, nil
}

// appendEntry pushes entry onto the log at path unless an entry with the
// same identity is already there.
func appendEntry(doc map[string]any, path, key string, entry any) error {
	node, err := toTree(entry)
	if err != nil {
		return fmt.Errorf("realtime: encode entry: %w", err)
	}
	list, err := listAt(doc, path)
	if err != nil {
		return err
	}
	if indexOf(list, key, node) >= 0 {
		return nil
	}
	return setPath(doc, path, append(list, node))
}

// replaceEntry swaps the entry with the same identity. An entry the replica
// never saw is appended so the log still converges.
func replaceEntry(doc map[string]any, path, key string, entry any) error {
	node, err := toTree(entry)
	if err != nil {
		return fmt.Errorf("realtime: encode entry: %w", err)
	}
	list, err := listAt(doc, path)
	if err != nil {
		return err
	}
	if i := indexOf(list, key, node); i >= 0 {
		next := append([]any(nil), list...)
		next[i] = node
		return setPath(doc, path, next)
	}
	return setPath(doc, path, append(list, node))
}

func listAt(doc map[string]any, path string) ([]any, error) {
	var node any = doc
	for _, key := range strings.Split(path, ".") {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPath, path)
		}
		node = obj[key]
	}
	switch v := node.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %s is %T, not a list", ErrInvalidPath, path, node)
	}
}

// cloneTree deep-copies a decoded JSON tree.
func cloneTree(node any) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			out[key] = cloneTree(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = cloneTree(child)
		}
		return out
	default:
		return v
	}
}

func indexOf(list []any, key string, node any) int {
	obj, ok := node.(map[string]any)
	if !ok {
		return -1
	}
	id, ok := obj[key]
	if !ok || id == "" {
		return -1
	}
	for i, item := range list {
		if existing, ok := item.(map[string]any); ok && existing[key] == id {
			return i
		}
	}
	return -1
}

// setPath writes value at a dot path, creating intermediate objects.
func setPath(doc map[string]any, path string, value any) error {
	keys := strings.Split(path, ".")
	for _, key := range keys {
		if key == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	node := doc
	for _, key := range keys[:len(keys)-1] {
		child, exists := node[key]
		if !exists || child == nil {
			next := make(map[string]any)
			node[key] = next
			node = next
			continue
		}
		obj, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s crosses a %T", ErrInvalidPath, path, child)
		}
		node = obj
	}
	node[keys[len(keys)-1]] = value
	return nil
}

// toTree converts a typed value into its generic JSON form.
func toTree(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
