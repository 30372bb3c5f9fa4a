// Package capability defines the protocol between the orchestration
// loop and external capability providers (calendar, reminders, search,
// and so on). The providers themselves live in the embedding
// application; this package only carries their declared schema and the
// dispatch contract.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Operation describes one invocable operation: its name, a human
// description, and a JSON-schema-like map describing its arguments.
type Operation struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Provider is an external capability the model may invoke
// mid-conversation.
type Provider interface {
	// Name identifies the provider (e.g. "calendar").
	Name() string
	// Operations lists the operations this provider exposes.
	Operations() []Operation
	// Invoke runs one operation. The returned text is fed back to the
	// model as a synthetic tool turn.
	Invoke(ctx context.Context, operation string, args map[string]any) (string, error)
}

// OperationUnavailableError reports a dispatch against an operation no
// enabled provider declares. This is a capability mismatch, not a
// transient failure; the loop surfaces it to the model instead of
// retrying.
type OperationUnavailableError struct {
	Operation string
}

func (e *OperationUnavailableError) Error() string {
	return fmt.Sprintf("capability: operation %q is not available", e.Operation)
}

// Registry aggregates the currently enabled providers for dispatch and
// schema rendering.
type Registry struct {
	providers []Provider
}

// NewRegistry creates a registry over the given providers.
func NewRegistry(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

// Register adds a provider.
func (r *Registry) Register(p Provider) {
	r.providers = append(r.providers, p)
}

// Operations returns every declared operation across all providers,
// sorted by name for stable prompt output.
func (r *Registry) Operations() []Operation {
	var ops []Operation
	for _, p := range r.providers {
		ops = append(ops, p.Operations()...)
	}
	sort.Slice(ops, func(a, b int) bool { return ops[a].Name < ops[b].Name })
	return ops
}

// Dispatch invokes the named operation on whichever enabled provider
// declares it, matching by exact name.
func (r *Registry) Dispatch(ctx context.Context, operation string, args map[string]any) (string, error) {
	for _, p := range r.providers {
		for _, op := range p.Operations() {
			if op.Name == operation {
				return p.Invoke(ctx, operation, args)
			}
		}
	}
	return "", &OperationUnavailableError{Operation: operation}
}

// SchemaJSON renders all operations as a JSON array in function-calling
// format, embedded machine-readably in the system prompt.
func (r *Registry) SchemaJSON() string {
	type fn struct {
		Type     string    `json:"type"`
		Function Operation `json:"function"`
	}
	fns := make([]fn, 0, len(r.providers))
	for _, op := range r.Operations() {
		fns = append(fns, fn{Type: "function", Function: op})
	}
	out, err := json.Marshal(fns)
	if err != nil {
		return "[]"
	}
	return string(out)
}

// Describe renders a human-readable operation listing for the system
// prompt: name, description, and parameter details.
func (r *Registry) Describe() string {
	var sb strings.Builder
	for _, op := range r.Operations() {
		fmt.Fprintf(&sb, "### %s\n", op.Name)
		if op.Description != "" {
			fmt.Fprintf(&sb, "%s\n", op.Description)
		}
		writeParameters(&sb, op.Parameters)
		sb.WriteString("\n")
	}
	return sb.String()
}

func writeParameters(sb *strings.Builder, params map[string]any) {
	props, _ := params["properties"].(map[string]any)
	if len(props) == 0 {
		return
	}
	required := map[string]bool{}
	if req, ok := params["required"].([]string); ok {
		for _, name := range req {
			required[name] = true
		}
	} else if req, ok := params["required"].([]any); ok {
		for _, name := range req {
			if s, ok := name.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	sb.WriteString("Parameters:\n")
	for _, name := range names {
		prop, _ := props[name].(map[string]any)
		typ, _ := prop["type"].(string)
		if typ == "" {
			typ = "string"
		}
		fmt.Fprintf(sb, "- %s (%s)", name, typ)
		if required[name] {
			sb.WriteString(" *required*")
		}
		if desc, ok := prop["description"].(string); ok && desc != "" {
			fmt.Fprintf(sb, ": %s", desc)
		}
		sb.WriteString("\n")
	}
}

// TruncateResult caps a tool result at max bytes, cutting on a rune
// boundary and appending an ellipsis marker.
func TruncateResult(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max - 3
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
