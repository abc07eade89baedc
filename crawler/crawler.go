// Package crawler implements the periodic fetch-dedup-upload pipeline (C5):
// given a static list of sources, fetch bytes, hash them, and only upload
// and record genuinely new documents.
package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vnforms.dev/common"
	"vnforms.dev/db/repository"
	"vnforms.dev/queue"
	"vnforms.dev/security"
	"vnforms.dev/storage"
)

// eventPublisher is the narrow surface the crawler needs to announce a
// newly stored document to the form-understanding worker (C6), satisfied
// by both queue.RedisEventBus and queue.RabbitMQEventBus.
type eventPublisher interface {
	Publish(ctx context.Context, event queue.StorageEvent) error
}

// SourceDescriptor is one configured crawl target, immutable during a run.
type SourceDescriptor struct {
	URL         string
	Name        string
	Format      string // pdf, doc, docx
	SourceLabel string
}

// mimeByFormat maps a SourceDescriptor.Format to the content type uploaded
// to the object store.
var mimeByFormat = map[string]string{
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// CycleResult is the outcome of one fetch-all-sources pass.
type CycleResult struct {
	New     int
	Skipped int
	Failed  int
}

// Config configures a Crawler run.
type Config struct {
	Sources        []SourceDescriptor
	Bucket         string
	RequestTimeout time.Duration
}

// Crawler runs periodic fetch cycles against a fixed source list.
type Crawler struct {
	cfg        Config
	store      *storage.Store
	dedup      repository.DedupRepository
	events     eventPublisher
	httpClient *http.Client
	log        *common.ContextLogger
}

// New builds a Crawler. The HTTP timeout defaults to 60s (spec.md §4.1)
// when cfg.RequestTimeout is zero. events may be nil: a crawler run without a
// configured event bus still uploads and dedups documents, it just leaves
// the worker (C6) to discover them by some other means (e.g. a bucket
// listing backfill) instead of a live notification.
func New(cfg Config, store *storage.Store, dedup repository.DedupRepository, events eventPublisher, log *common.ContextLogger) *Crawler {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Crawler{
		cfg:        cfg,
		store:      store,
		dedup:      dedup,
		events:     events,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// RunCycle fetches every configured source once. Errors for one source
// never abort the cycle. A source uploads first and records metadata
// second; if the metadata insert fails, the uploaded blob stays orphaned
// in the object store and the next cycle uploads it again under a new
// timestamped key (spec.md §4.1 failure semantics).
func (c *Crawler) RunCycle(ctx context.Context) CycleResult {
	var result CycleResult

	for _, src := range c.cfg.Sources {
		outcome := c.fetchOne(ctx, src)
		switch outcome {
		case outcomeNew:
			result.New++
		case outcomeSkipped:
			result.Skipped++
		case outcomeFailed:
			result.Failed++
		}
	}

	return result
}

type outcome int

const (
	outcomeNew outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (c *Crawler) fetchOne(ctx context.Context, src SourceDescriptor) outcome {
	log := c.log.WithFields(map[string]interface{}{"source": src.Name, "url": src.URL})

	body, err := c.fetch(ctx, src.URL, log)
	if err != nil {
		log.WithError(err).Warn("crawl fetch failed")
		return outcomeFailed
	}

	if dt, ok := extractMostRecentDate(string(body)); ok {
		log.WithField("page_date", dt.Format("2006-01-02")).Debug("detected page date")
	}

	hash := sha256.Sum256(body)
	contentHash := hex.EncodeToString(hash[:])

	now := time.Now()
	existing, err := c.dedup.FindByHash(ctx, src.URL, contentHash)
	switch {
	case err == nil && existing != nil:
		if err := c.dedup.TouchLastChecked(ctx, src.URL, contentHash, now); err != nil {
			log.WithError(err).Warn("failed to refresh last_checked_at")
			return outcomeFailed
		}
		return outcomeSkipped
	case err != nil && err != repository.ErrNotFound:
		log.WithError(err).Error("dedup lookup failed")
		return outcomeFailed
	}

	key := fmt.Sprintf("raw/%s-%d.%s", src.Name, now.Unix(), src.Format)
	contentType := mimeByFormat[strings.ToLower(src.Format)]
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := c.store.Put(ctx, key, contentType, body); err != nil {
		log.WithError(err).Error("upload failed")
		return outcomeFailed
	}

	doc := &repository.CrawledDocument{
		URL:           src.URL,
		ContentHash:   contentHash,
		BlobKey:       key,
		Bucket:        c.cfg.Bucket,
		ByteSize:      int64(len(body)),
		Format:        src.Format,
		FirstSeenAt:   now,
		LastCheckedAt: now,
	}
	if err := c.dedup.InsertIfAbsent(ctx, doc); err != nil {
		if err == repository.ErrConflict {
			// A concurrent cycle already recorded this hash; the blob we
			// just uploaded is orphaned but harmless (spec.md §4.1 failure
			// semantics) since keys are timestamped.
			return outcomeSkipped
		}
		log.WithError(err).Error("dedup record insert failed")
		return outcomeFailed
	}

	log.WithField("blob_key", key).Info("new document crawled")

	if c.events != nil {
		if err := c.events.Publish(ctx, queue.StorageEvent{Bucket: c.cfg.Bucket, Key: key}); err != nil {
			log.WithError(err).Warn("failed to publish storage event, worker will miss this document until a backfill")
		}
	}

	return outcomeNew
}

// fetch performs the HTTP GET, retrying once with the insecure fallback
// client when the first attempt fails on certificate verification — an
// explicit, logged policy for Vietnamese government sites whose
// certificates expire frequently (spec.md §4.1).
func (c *Crawler) fetch(ctx context.Context, url string, log *common.ContextLogger) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil && security.IsCertificateError(err) {
		log.Warn("certificate verification failed, retrying without verification")
		req2, err2 := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err2 != nil {
			return nil, fmt.Errorf("build fallback request: %w", err2)
		}
		resp, err = security.InsecureFallbackClient.Do(req2)
	}
	if err != nil {
		return nil, fmt.Errorf("http get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http get %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body %s: %w", url, err)
	}
	return body, nil
}
