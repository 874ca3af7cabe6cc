package tasks

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"

	"scribe/internal/approval"
	"scribe/internal/cms"
	"scribe/internal/enrich"
	"scribe/internal/refcache"
	"scribe/internal/workitem"
)

//go:embed prompts/*.txt
var promptFS embed.FS

func prompt(name string) string {
	data, err := promptFS.ReadFile("prompts/" + name + ".txt")
	if err != nil {
		panic(fmt.Sprintf("missing embedded prompt %s: %v", name, err))
	}
	return strings.TrimSpace(string(data))
}

// Enricher is the vision call a strategy may use.
type Enricher interface {
	ClassifyJSON(ctx context.Context, req enrich.Request, target any) (string, error)
}

// Input is everything an executor has gathered before the strategy runs.
type Input struct {
	Item        workitem.Item
	Entity      refcache.Entity
	EntityFound bool
	// ImageURL is a presigned link the enrichment service can fetch.
	ImageURL string
	// Image holds the object bytes when the strategy asked for them.
	Image []byte
	// Companions holds resolved companion entities keyed by filename argument.
	Companions map[string]refcache.Entity
}

// Companion resolves a second filename argument against a collection.
type Companion struct {
	Arg        string
	Collection string
	// Required leaves the item for a later pass when the entity is missing.
	Required bool
}

// CompanionResolver is implemented by strategies whose items reference more
// than one entity. Arguments absent from the item are skipped.
type CompanionResolver interface {
	Companions(item workitem.Item) []Companion
}

// Companion returns the resolved entity for arg.
func (in Input) Companion(arg string) (refcache.Entity, bool) {
	e, ok := in.Companions[arg]
	return e, ok
}

// DisplayName is the entity title, or its reference when the entity is new.
func (in Input) DisplayName() string {
	if in.EntityFound && in.Entity.Title != "" {
		return in.Entity.Title
	}
	return in.Item.Entity()
}

// Result is a strategy's proposal for one work item.
type Result struct {
	Fields     map[string]any
	Embed      approval.Embed
	Attachment *cms.Attachment
}

// Strategy customizes the generic enrich-and-approve flow for one kind.
type Strategy interface {
	Kind() workitem.Kind
	// Collection is the reference cache collection entities resolve against.
	Collection() string
	// Endpoint is the backend REST endpoint the outcome is committed to.
	Endpoint() string
	// AllowMissingEntity lets the item proceed as a new entity.
	AllowMissingEntity() bool
	// NeedsImage asks the executor to download the object bytes.
	NeedsImage() bool
	Build(ctx context.Context, enricher Enricher, in Input) (Result, error)
}

// Registry maps kinds to strategies.
type Registry struct {
	byKind map[workitem.Kind]Strategy
}

// NewRegistry indexes strategies by kind. Later entries replace earlier ones.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{byKind: make(map[workitem.Kind]Strategy, len(strategies))}
	for _, s := range strategies {
		r.byKind[s.Kind()] = s
	}
	return r
}

// DefaultRegistry returns every built-in strategy.
func DefaultRegistry() *Registry {
	return NewRegistry(Story(), Bio(), Stats(), Weapon(), Portrait(), Illustration(), Costume(), CostumeIllustration())
}

// Get returns the strategy for kind.
func (r *Registry) Get(kind workitem.Kind) (Strategy, bool) {
	s, ok := r.byKind[kind]
	return s, ok
}

// Kinds lists registered kinds in scan order.
func (r *Registry) Kinds() []workitem.Kind {
	kinds := make([]workitem.Kind, 0, len(r.byKind))
	for _, k := range workitem.Kinds() {
		if _, ok := r.byKind[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Restrict keeps only the named kinds. An empty list keeps everything.
func (r *Registry) Restrict(names []string) (*Registry, error) {
	if len(names) == 0 {
		return r, nil
	}
	out := &Registry{byKind: make(map[workitem.Kind]Strategy, len(names))}
	var unknown []string
	for _, name := range names {
		kind, err := workitem.ParseKind(name)
		if err != nil {
			unknown = append(unknown, name)
			continue
		}
		s, ok := r.byKind[kind]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		out.byKind[kind] = s
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown task kinds: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}
