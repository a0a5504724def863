// Package publish fans one authored post out to the selected destinations,
// one delivery attempt per destination, and records per-destination outcome.
package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"postbot/internal/platform"
	"postbot/internal/store"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

var (
	// ErrEmptySelection rejects a publish with no destinations selected,
	// before any Post row is created.
	ErrEmptySelection = errors.New("no destinations selected")

	// ErrNoDestinations means every selected id was unknown or foreign.
	ErrNoDestinations = errors.New("no usable destinations")
)

// Content is the captured payload of one publish action.
type Content struct {
	Text            string
	PhotoFileID     string
	SourceChatID    int64
	SourceMessageID int
}

// Report is the user-facing outcome summary. Attempted and Succeeded are
// reported separately; "selected" is never conflated with "succeeded".
type Report struct {
	PostID    int64
	Attempted int
	Succeeded int
}

type Config struct {
	Workers     int
	RatePerSec  int
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	return c
}

type Orchestrator struct {
	cfg       Config
	store     store.Store
	registry  *platform.Registry
	transport kit.Adapter
	limiter   *rate.Limiter
	log       logx.Logger
}

func New(cfg Config, st store.Store, registry *platform.Registry, transport kit.Adapter, log logx.Logger) *Orchestrator {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{
		cfg:       cfg,
		store:     st,
		registry:  registry,
		transport: transport,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:       log,
	}
}

// Publish creates the Post and its PENDING attempts, then delivers to each
// destination concurrently. Once attempts are committed the publish runs to
// completion; per-destination failures never abort sibling attempts.
func (o *Orchestrator) Publish(ctx context.Context, ownerUserID int64, content Content, destinationIDs []int64) (Report, error) {
	if len(destinationIDs) == 0 {
		return Report{}, ErrEmptySelection
	}

	dests, err := o.store.DestinationsByIDs(ctx, ownerUserID, destinationIDs)
	if err != nil {
		return Report{}, err
	}
	if len(dests) == 0 {
		return Report{}, ErrNoDestinations
	}

	post, err := o.store.CreatePost(ctx, store.Post{
		OwnerUserID:     ownerUserID,
		SourceChatID:    content.SourceChatID,
		SourceMessageID: content.SourceMessageID,
	})
	if err != nil {
		return Report{}, err
	}

	// Durability first: commit PENDING rows before any external call.
	destIDs := make([]int64, len(dests))
	for i, d := range dests {
		destIDs[i] = d.ID
	}
	attempts, err := o.store.CreateAttempts(ctx, post.ID, destIDs)
	if err != nil {
		return Report{}, err
	}

	jobID := uuid.NewString()
	log := o.log.With(logx.String("job", jobID), logx.Int64("post_id", post.ID))
	log.Info("publish started", logx.Int("destinations", len(attempts)))

	// Stage the photo once; every VK attempt in this publish shares the file
	// read-only. The defer guarantees cleanup on every exit path.
	payload := platform.Content{
		Text:            content.Text,
		SourceChatID:    content.SourceChatID,
		SourceMessageID: content.SourceMessageID,
	}
	if content.PhotoFileID != "" && needsStagedPhoto(dests) {
		path, err := o.stagePhoto(ctx, content.PhotoFileID)
		if err != nil {
			log.Warn("photo staging failed, continuing without attachment", logx.Err(err))
		} else {
			defer func() {
				if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
					log.Warn("staged photo cleanup failed", logx.String("path", path), logx.Err(rmErr))
				}
			}()
			payload.PhotoPath = path
		}
	}

	var succeeded atomic.Int64
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := o.cfg.Workers
	if workers > len(attempts) {
		workers = len(attempts)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if o.deliver(ctx, log, attempts[i], dests[i], payload) {
					succeeded.Add(1)
				}
			}
		}()
	}
	for i := range attempts {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	report := Report{PostID: post.ID, Attempted: len(attempts), Succeeded: int(succeeded.Load())}
	if report.Succeeded < report.Attempted {
		log.Warn("publish finished with failures",
			logx.Int("attempted", report.Attempted), logx.Int("succeeded", report.Succeeded))
	} else {
		log.Info("publish finished", logx.Int("attempted", report.Attempted))
	}
	return report, nil
}

// deliver runs one adapter call and records the terminal status. It reports
// success. Panics inside an adapter are contained and mapped to FAILED.
func (o *Orchestrator) deliver(ctx context.Context, log logx.Logger, attempt store.DeliveryAttempt, dest store.Destination, payload platform.Content) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("publisher panic", logx.Int64("destination_id", dest.ID), logx.Any("panic", r))
			o.mark(attempt.ID, store.StatusFailed)
			ok = false
		}
	}()

	if err := o.limiter.Wait(ctx); err != nil {
		o.mark(attempt.ID, store.StatusFailed)
		return false
	}

	pub, err := o.registry.For(dest.Platform)
	if err != nil {
		log.Warn("no publisher for platform", logx.String("platform", string(dest.Platform)))
		o.mark(attempt.ID, store.StatusFailed)
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	externalID, err := pub.Publish(callCtx, dest, payload)
	if err != nil {
		log.Warn("delivery failed",
			logx.Int64("destination_id", dest.ID),
			logx.String("platform", string(dest.Platform)),
			logx.Err(err))
		o.mark(attempt.ID, store.StatusFailed)
		return false
	}

	log.Debug("delivered",
		logx.Int64("destination_id", dest.ID),
		logx.String("platform", string(dest.Platform)),
		logx.String("external_post_id", externalID))
	o.mark(attempt.ID, store.StatusSent)
	return true
}

// mark uses a background context: once a delivery resolved, its status must
// be recorded even if the publish context was cancelled mid-flight.
func (o *Orchestrator) mark(attemptID int64, status store.AttemptStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.MarkAttempt(ctx, attemptID, status); err != nil {
		o.log.Error("failed to record attempt status",
			logx.Int64("attempt_id", attemptID), logx.String("status", string(status)), logx.Err(err))
	}
}

func needsStagedPhoto(dests []store.Destination) bool {
	for _, d := range dests {
		if d.Platform == store.PlatformVK {
			return true
		}
	}
	return false
}

// stagePhoto downloads the attachment into a scoped temporary file.
func (o *Orchestrator) stagePhoto(ctx context.Context, fileID string) (string, error) {
	rc, err := o.transport.DownloadFile(ctx, fileID)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	path := filepath.Join(os.TempDir(), "postbot-"+uuid.NewString()+".jpg")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}
