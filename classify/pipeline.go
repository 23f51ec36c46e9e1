// ABOUTME: Classification pipeline combining the quick heuristic with the model
// ABOUTME: Consults the model only for weak results and memoises model answers per sender
package classify

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"

	"github.com/harperreed/rolodex/models"
)

// Memo holds model answers keyed by normalized sender address.
type Memo = ttlcache.Cache[string, Result]

// NewMemo creates a memo whose entries expire ttl after they were stored.
// maxItems <= 0 means unbounded. Callers run Start in a goroutine to purge
// expired entries and Stop it on shutdown.
func NewMemo(ttl time.Duration, maxItems int) *Memo {
	opts := []ttlcache.Option[string, Result]{
		ttlcache.WithTTL[string, Result](ttl),
		ttlcache.WithDisableTouchOnHit[string, Result](),
	}
	if maxItems > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, Result](uint64(maxItems)))
	}
	return ttlcache.New[string, Result](opts...)
}

type Pipeline struct {
	quick QuickClassifier
	model ModelClassifier
	memo  *Memo
	log   zerolog.Logger
}

// NewPipeline builds a pipeline. model and memo may be nil; without a model
// the quick result is always final.
func NewPipeline(model ModelClassifier, memo *Memo, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		model: model,
		memo:  memo,
		log:   log.With().Str("component", "classifier").Logger(),
	}
}

// Classify never fails. The returned confidence is always within [0, 1].
func (p *Pipeline) Classify(ctx context.Context, in Input) Result {
	quick := p.quick.Classify(in)
	if !quick.Weak() || p.model == nil {
		return quick
	}

	key := models.NormalizeEmail(in.SenderAddress)
	if p.memo != nil && key != "" {
		if item := p.memo.Get(key); item != nil {
			p.log.Debug().Str("sender", key).Msg("using memoised model classification")
			return item.Value()
		}
	}

	result := p.model.Classify(ctx, in, quick)
	if _, ok := result.(AIMatch); ok && p.memo != nil && key != "" {
		p.memo.Set(key, result, ttlcache.DefaultTTL)
	}
	return result
}
