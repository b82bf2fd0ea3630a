package batch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/fpang/lynx-studio/internal/apperr"
	"github.com/fpang/lynx-studio/internal/dispatch"
	"github.com/fpang/lynx-studio/internal/enhance"
	"github.com/fpang/lynx-studio/internal/provider"
	"github.com/fpang/lynx-studio/internal/studio"
)

// Processor runs a single request. *studio.Service satisfies it.
type Processor interface {
	Process(ctx context.Context, req *enhance.Request, cancel *dispatch.CancelFlag, onStatus provider.StatusFunc) (*studio.Result, error)
}

// Summary reports what a Run did.
type Summary struct {
	Completed int
	Failed    int
	Cancelled bool
}

// Runner processes queues.
type Runner struct {
	proc Processor
	// OnItem, if set, is called after each item changes state.
	OnItem func(Item)
}

func NewRunner(proc Processor) *Runner {
	return &Runner{proc: proc}
}

// Run processes the pending items of q in order, each with a copy of
// template whose source image is the item's. Cancellation is checked before
// and after every item; items left processing return to pending. A
// MissingCredentials failure stops the batch and is returned. Every other
// failure marks its item failed and the batch continues.
func (r *Runner) Run(ctx context.Context, q *Queue, template enhance.Request, cancel *dispatch.CancelFlag) (Summary, error) {
	var sum Summary
	ids := q.pending()
	log.Info().Int("pending", len(ids)).Str("template", template.Summary()).Msg("Starting batch")

	for _, id := range ids {
		if cancel.Cancelled() || ctx.Err() != nil {
			sum.Cancelled = true
			break
		}

		it, ok := q.update(id, func(it *Item) { it.Status = StatusProcessing })
		if !ok {
			continue
		}
		r.notify(it)

		req := template
		req.SourceImage = it.Source
		res, err := r.proc.Process(ctx, &req, cancel, nil)

		if cancel.Cancelled() || apperr.KindOf(err) == apperr.KindCancelled {
			sum.Cancelled = true
			break
		}
		if apperr.KindOf(err) == apperr.KindMissingCredentials {
			q.Reset()
			log.Error().Err(err).Msg("Batch stopped: missing credentials")
			return sum, err
		}
		if err == nil && len(res.Images) == 0 {
			err = apperr.New(apperr.KindNoImage, "no image produced")
		}

		if err != nil {
			sum.Failed++
			it, _ = q.update(id, func(it *Item) {
				it.Status = StatusFailed
				it.Error = apperr.UserMessage(err)
			})
			log.Warn().Err(err).Str("item", it.Name).Msg("Batch item failed")
		} else {
			sum.Completed++
			first := res.Images[0]
			it, _ = q.update(id, func(it *Item) {
				it.Status = StatusCompleted
				it.Result = first
				it.Error = ""
				it.ResultDims = dimsOfBytes(first.Data)
			})
			log.Info().Str("item", it.Name).Int("width", it.ResultDims.Width).Int("height", it.ResultDims.Height).Msg("Batch item completed")
		}
		r.notify(it)
	}

	if sum.Cancelled {
		q.Reset()
		log.Info().Int("completed", sum.Completed).Msg("Batch cancelled")
		return sum, nil
	}
	log.Info().Int("completed", sum.Completed).Int("failed", sum.Failed).Msg("Batch finished")
	return sum, nil
}

func (r *Runner) notify(it Item) {
	if r.OnItem != nil {
		r.OnItem(it)
	}
}
