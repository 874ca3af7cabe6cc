package review

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"scribe/internal/approval"
	"scribe/internal/cms"
	"scribe/internal/coord"
	"scribe/internal/logging"
	"scribe/internal/refcache"
	"scribe/internal/services"
)

//go:embed prompts/proofreader.txt
var proofreaderPrompt string

// Endpoint is the backend endpoint reviews are committed to.
const Endpoint = "update-hero-review"

const maxTokens = 2000

// Submission is one queued set of review notes.
type Submission struct {
	Hero      string `json:"hero"`
	ChannelID string `json:"channel_id,omitempty"`
	Message   string `json:"message"`
}

// Enqueue validates sub and pushes it onto the review queue.
func Enqueue(ctx context.Context, queue coord.Queue, sub Submission) error {
	sub.Hero = strings.TrimSpace(sub.Hero)
	sub.Message = strings.TrimSpace(sub.Message)
	if sub.Hero == "" || sub.Message == "" {
		return services.Wrap(services.ErrValidation, "review", "enqueue", "hero and message are required", nil)
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return queue.Enqueue(ctx, coord.ReviewQueue, payload)
}

// TitleResolver finds a hero by display title.
type TitleResolver interface {
	LookupTitle(ctx context.Context, collection, title string) (refcache.Entity, error)
}

// Completer runs a text-only language model call.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// Publisher posts a proposal to the approval channel.
type Publisher interface {
	Publish(ctx context.Context, p approval.Proposal) error
}

// Backend commits the merged review.
type Backend interface {
	Submit(ctx context.Context, endpoint string, sub cms.Submission) error
}

// Deps wires a processor.
type Deps struct {
	Queue     coord.Queue
	Heroes    TitleResolver
	Completer Completer
	Publisher Publisher
	Backend   Backend
	Refresher interface{ Request() }
	// ChannelRef is used when a submission names no channel.
	ChannelRef string
	Logger     *slog.Logger
}

// Processor drains the review queue.
type Processor struct {
	deps   Deps
	logger *slog.Logger
}

// NewProcessor builds a processor.
func NewProcessor(deps Deps) *Processor {
	return &Processor{deps: deps, logger: logging.NewComponentLogger(deps.Logger, "review")}
}

// Drain processes submissions until the queue is empty or one fails.
func (p *Processor) Drain(ctx context.Context) error {
	for {
		processed, err := p.ProcessNext(ctx)
		if err != nil {
			return err
		}
		if !processed {
			return nil
		}
	}
}

// ProcessNext handles one submission. It returns false when the queue was
// empty. Undecodable entries and unknown heroes are dropped.
func (p *Processor) ProcessNext(ctx context.Context) (bool, error) {
	payload, ok, err := p.deps.Queue.Dequeue(ctx, coord.ReviewQueue)
	if err != nil || !ok {
		return false, err
	}
	var sub Submission
	if err := json.Unmarshal(payload, &sub); err != nil || strings.TrimSpace(sub.Hero) == "" {
		p.logger.Warn("dropping undecodable review submission",
			logging.String(logging.FieldEventType, "review_dropped"),
			logging.Int("bytes", len(payload)),
		)
		return true, nil
	}
	logger := p.logger.With(logging.String("hero", sub.Hero))

	hero, err := p.deps.Heroes.LookupTitle(ctx, cms.CollectionHeroes, sub.Hero)
	if err != nil {
		if refcache.IsMissing(err) {
			logging.WarnWithContext(logger, "review hero not found; submission dropped", "review_hero_missing",
				logging.String(logging.FieldErrorHint, "check the hero title or refresh the reference cache"),
			)
			return true, nil
		}
		return true, err
	}

	updated, err := p.deps.Completer.Complete(ctx, proofreaderPrompt, buildPrompt(hero, currentReview(hero), sub.Message), maxTokens)
	if err != nil {
		return true, fmt.Errorf("proofread review for %s: %w", hero.Title, err)
	}
	updated = strings.TrimSpace(updated)
	if updated == "" {
		return true, services.Wrap(services.ErrValidation, "review", "proofread", "empty review returned", nil)
	}

	channel := strings.TrimSpace(sub.ChannelID)
	if channel == "" {
		channel = p.deps.ChannelRef
	}
	if err := p.deps.Publisher.Publish(ctx, approval.Proposal{
		ChannelRef: channel,
		Kind:       "review",
		Message:    fmt.Sprintf("Hero review for %s has been updated. Please review the changes.", hero.Title),
	}); err != nil {
		logger.Warn("review announcement failed", logging.Error(err))
	}

	if err := p.deps.Backend.Submit(ctx, Endpoint, cms.Submission{
		Fields: map[string]any{
			"hero_id":         hero.ID,
			"detailed_review": updated,
		},
		Confirmed: true,
	}); err != nil {
		return true, err
	}
	if p.deps.Refresher != nil {
		p.deps.Refresher.Request()
	}
	logger.Info("hero review updated",
		logging.String(logging.FieldEventType, "review_committed"),
		logging.Int("review_chars", len(updated)),
	)
	return true, nil
}

type heroRecord struct {
	HeroInformation struct {
		AnalysisFields struct {
			DetailedReview string `json:"detailedReview"`
		} `json:"analysisFields"`
	} `json:"heroInformation"`
}

func currentReview(hero refcache.Entity) string {
	var record heroRecord
	if err := hero.Decode(&record); err != nil {
		return ""
	}
	return record.HeroInformation.AnalysisFields.DetailedReview
}

func buildPrompt(hero refcache.Entity, current, notes string) string {
	var b strings.Builder
	b.WriteString("Hero name: ")
	b.WriteString(hero.Title)
	b.WriteString("\nCurrent information:\n")
	b.WriteString(current)
	b.WriteString("\nNew information:\n")
	b.WriteString(notes)
	return b.String()
}
