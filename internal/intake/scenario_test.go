package intake

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limitrofe/stickers/internal/admission"
	"github.com/limitrofe/stickers/internal/clock"
	"github.com/limitrofe/stickers/internal/delivery"
	"github.com/limitrofe/stickers/internal/metrics"
	"github.com/limitrofe/stickers/internal/pipeline"
	"github.com/limitrofe/stickers/internal/queue"
	"github.com/limitrofe/stickers/internal/staging"
	"github.com/limitrofe/stickers/shared/logger"
)

type passthroughConverter struct{}

func (passthroughConverter) Process(_ context.Context, raw []byte) pipeline.Result {
	return pipeline.Result{Data: raw}
}

// system wires intake, the embedded queue, the processor and the outbox
// the way the api service does in embedded mode.
type system struct {
	controller *Controller
	outbox     *delivery.Outbox
	store      *staging.DirStore
	dir        string
	queue      *queue.Embedded
}

func newSystem(t *testing.T, converter queue.Converter, maxBytes int64) *system {
	t.Helper()

	log := logger.NewNop()
	m := metrics.New(prometheus.NewRegistry(), metrics.Config{})

	dir := t.TempDir()
	store, err := staging.NewDirStore(dir)
	require.NoError(t, err)

	outbox := delivery.NewOutbox(100, log)
	processor := queue.NewProcessor(&queue.ProcessorConfig{
		Store:     store,
		Converter: converter,
		Sender:    outbox,
		Logger:    log,
		Metrics:   m,
	})
	q := queue.NewEmbedded(&queue.EmbeddedConfig{
		Handler: processor,
		Gate:    queue.NewLocalGate(time.Millisecond),
		Delay:   5 * time.Millisecond,
		Logger:  log,
		Metrics: m,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go q.Run(ctx)

	limiter := admission.NewRateLimiter(admission.NewMemoryUsageStore(), clock.SystemClock{}, time.UTC, log)

	return &system{
		controller: NewController(Config{
			Limiter:         limiter,
			Store:           store,
			Queue:           q,
			Notifier:        outbox,
			Metrics:         m,
			Logger:          log,
			DailyLimit:      25,
			MaxFileBytes:    maxBytes,
			IgnoredSuffixes: []string{"@g.us", "status@broadcast"},
			LimitNotice:     limitNotice,
			SizeNotice:      sizeNotice,
		}),
		outbox: outbox,
		store:  store,
		dir:    dir,
		queue:  q,
	}
}

// collect drains the outbox until want stickers arrived or time runs out.
func (s *system) collect(t *testing.T, identity string, want int) (stickers, notices []delivery.Message) {
	t.Helper()

	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		for _, msg := range s.outbox.Drain(identity) {
			if msg.Type == delivery.TypeSticker {
				stickers = append(stickers, msg)
			} else {
				notices = append(notices, msg)
			}
		}
		if len(stickers) >= want {
			return stickers, notices
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("got %d of %d stickers", len(stickers), want)
	return nil, nil
}

func (s *system) assertStagingEmpty(t *testing.T) {
	t.Helper()
	assert.Eventually(t, func() bool {
		entries, err := os.ReadDir(s.dir)
		return err == nil && len(entries) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScenario_FreshIdentityGetsSticker(t *testing.T) {
	enc, err := pipeline.NewStickerEncoder(pipeline.EncoderOptions{PackName: "Sticker Bot", Publisher: "Seu Nome"})
	require.NoError(t, err)
	p := pipeline.New(nil, pipeline.NewOutliner(pipeline.OutlineOptions{}), enc, logger.NewNop(), nil)

	s := newSystem(t, p, 204800)
	data := noisePNG(t, 112, 112)
	require.InDelta(t, 50*1024, len(data), 5*1024)

	ev := imageEvent(data)
	require.Equal(t, admission.OutcomeAccepted, s.controller.Handle(context.Background(), ev))

	stickers, notices := s.collect(t, ev.Identity, 1)
	assert.Len(t, stickers, 1)
	assert.Empty(t, notices)
	assert.Equal(t, "RIFF", string(stickers[0].Data[:4]))
	assert.Equal(t, "WEBP", string(stickers[0].Data[8:12]))
	s.assertStagingEmpty(t)

	// Cleanup already ran; deleting a missing artifact is a no-op.
	assert.NoError(t, s.store.Delete(context.Background(), staging.ArtifactName(ev.EventID, "png")))
}

func TestScenario_OversizedImageRejected(t *testing.T) {
	s := newSystem(t, passthroughConverter{}, 204800)

	ev := imageEvent(nil)
	ev.Data = make([]byte, 300*1024)
	copy(ev.Data, smallPNG(t))

	require.Equal(t, admission.OutcomeTooLarge, s.controller.Handle(context.Background(), ev))

	msgs := s.outbox.Drain(ev.Identity)
	require.Len(t, msgs, 1)
	assert.Equal(t, delivery.TypeNotice, msgs[0].Type)
	assert.Equal(t, "size 300KB max 200KB", msgs[0].Text)

	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing staged")
}

func TestScenario_DailyLimit(t *testing.T) {
	s := newSystem(t, passthroughConverter{}, 204800)
	data := smallPNG(t)

	for i := 0; i < 26; i++ {
		ev := imageEvent(data)
		ev.EventID = fmt.Sprintf("evt-%02d", i)
		outcome := s.controller.Handle(context.Background(), ev)
		if i < 25 {
			require.Equal(t, admission.OutcomeAccepted, outcome, "event %d", i)
		} else {
			require.Equal(t, admission.OutcomeRateLimited, outcome)
		}
	}

	stickers, notices := s.collect(t, "5511999998888@c.us", 25)
	assert.Len(t, stickers, 25)
	require.Len(t, notices, 1)
	assert.Equal(t, "limit 25", notices[0].Text)
	s.assertStagingEmpty(t)
}
