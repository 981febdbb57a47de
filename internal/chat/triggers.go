package chat

import (
	"context"
	"regexp"
	"sync"
)

// TriggerFindMentions records the @names found in the body on the message.
const TriggerFindMentions = "find_mentions"

// TriggerFunc mutates a message before it is stored.
type TriggerFunc func(ctx context.Context, msg *Message)

var mentionPattern = regexp.MustCompile(`(?:^|\s)@([A-Za-z0-9_.\-]+)`)

// FindMentions returns the distinct @names in body, in order of appearance.
func FindMentions(body string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range mentionPattern.FindAllStringSubmatch(body, -1) {
		name := m[1]
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Triggers is a registry of named message triggers shared by store
// implementations. Unknown trigger names are ignored.
type Triggers struct {
	mu    sync.RWMutex
	funcs map[string]TriggerFunc
}

// NewTriggers returns a registry with the built-in triggers.
func NewTriggers() *Triggers {
	t := &Triggers{funcs: make(map[string]TriggerFunc)}
	t.Register(TriggerFindMentions, func(_ context.Context, msg *Message) {
		msg.Mentions = FindMentions(msg.Body)
	})
	return t
}

// Register adds or replaces a trigger.
func (t *Triggers) Register(name string, fn TriggerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.funcs[name] = fn
}

// Run applies the named triggers in order.
func (t *Triggers) Run(ctx context.Context, msg *Message, names []string) {
	if t == nil || len(names) == 0 {
		return
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, name := range names {
		if fn, ok := t.funcs[name]; ok {
			fn(ctx, msg)
		}
	}
}
