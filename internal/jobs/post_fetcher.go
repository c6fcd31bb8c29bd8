package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/omichsam/twitter-post-feeds/internal/metrics"
	"github.com/omichsam/twitter-post-feeds/internal/repository"
	"github.com/omichsam/twitter-post-feeds/internal/store"
	"github.com/omichsam/twitter-post-feeds/internal/xapi"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Source is the upstream the fetcher pulls posts from.
type Source interface {
	ResolveAccount(ctx context.Context, username string) (string, error)
	FetchRecentPosts(ctx context.Context, accountID string, maxCount int) ([]xapi.RawRecord, error)
}

// AccountCache remembers resolved account ids between cycles.
type AccountCache interface {
	GetAccountID(ctx context.Context, username string) (string, error)
	SetAccountID(ctx context.Context, username, id string, ttl time.Duration) error
	DeleteAccountID(ctx context.Context, username string) error
}

type PostFetcherConfig struct {
	Username   string
	FetchCount int
	// AccountIDTTL enables the account id cache when positive.
	AccountIDTTL time.Duration
}

// StoreResult counts the outcome of one batch.
type StoreResult struct {
	New       int `json:"new"`
	Duplicate int `json:"duplicate"`
	Failed    int `json:"failed"`
}

func (r StoreResult) Total() int {
	return r.New + r.Duplicate + r.Failed
}

type PostFetcher struct {
	source  Source
	repo    *repository.Repository
	cache   AccountCache
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	config  PostFetcherConfig
	now     func() time.Time

	// lookups coalesces concurrent resolutions of the same handle.
	lookups singleflight.Group
}

func NewPostFetcher(
	source Source,
	repo *repository.Repository,
	cache AccountCache,
	logger *zap.SugaredLogger,
	m *metrics.Metrics,
	config PostFetcherConfig,
) *PostFetcher {
	return &PostFetcher{
		source:  source,
		repo:    repo,
		cache:   cache,
		logger:  logger,
		metrics: m,
		config:  config,
		now:     time.Now,
	}
}

// ResolveAccount returns the upstream id for username, consulting the
// account id cache first when it is enabled.
func (f *PostFetcher) ResolveAccount(ctx context.Context, username string) (string, error) {
	useCache := f.cacheEnabled()

	if useCache {
		id, err := f.cache.GetAccountID(ctx, username)
		if err == nil && id != "" {
			f.logger.Debugw("Account id cache hit", "username", username, "account_id", id)
			return id, nil
		}
		if err != nil && !errors.Is(err, store.ErrCacheMiss) {
			f.logger.Warnw("Account id cache unavailable", "username", username, "error", err)
		}
	}

	v, err, _ := f.lookups.Do(username, func() (interface{}, error) {
		return f.source.ResolveAccount(ctx, username)
	})
	if err != nil {
		return "", err
	}
	id := v.(string)

	if useCache {
		if err := f.cache.SetAccountID(ctx, username, id, f.config.AccountIDTTL); err != nil {
			f.logger.Warnw("Failed to cache account id", "username", username, "error", err)
		}
	}
	return id, nil
}

func (f *PostFetcher) cacheEnabled() bool {
	return f.cache != nil && f.config.AccountIDTTL > 0
}

// forgetAccount drops a cached id the timeline endpoint no longer knows, so
// the next cycle resolves the handle again.
func (f *PostFetcher) forgetAccount(ctx context.Context, username string, err error) {
	var apiErr *xapi.APIError
	if !f.cacheEnabled() || !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		return
	}
	if derr := f.cache.DeleteAccountID(ctx, username); derr != nil {
		f.logger.Warnw("Failed to drop cached account id", "username", username, "error", derr)
		return
	}
	f.logger.Infow("Dropped cached account id", "username", username)
}

type publicMetrics struct {
	LikeCount    int64 `json:"like_count"`
	RetweetCount int64 `json:"retweet_count"`
	ReplyCount   int64 `json:"reply_count"`
}

type postRecord struct {
	ID            string         `json:"id"`
	Text          *string        `json:"text"`
	CreatedAt     string         `json:"created_at"`
	PublicMetrics *publicMetrics `json:"public_metrics"`
}

var errMalformed = errors.New("malformed record")

// decodeRecord maps one upstream record onto a Post. Missing engagement
// metrics default to zero.
func decodeRecord(raw xapi.RawRecord, username string) (repository.Post, error) {
	var rec postRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return repository.Post{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	switch {
	case rec.ID == "":
		return repository.Post{}, fmt.Errorf("%w: missing id", errMalformed)
	case rec.Text == nil:
		return repository.Post{}, fmt.Errorf("%w: missing text", errMalformed)
	case rec.CreatedAt == "":
		return repository.Post{}, fmt.Errorf("%w: missing created_at", errMalformed)
	}

	p := repository.Post{
		ID:        rec.ID,
		Username:  username,
		Text:      *rec.Text,
		CreatedAt: rec.CreatedAt,
		URL:       repository.PostURL(rec.ID),
	}
	if pm := rec.PublicMetrics; pm != nil {
		p.LikeCount = pm.LikeCount
		p.RetweetCount = pm.RetweetCount
		p.ReplyCount = pm.ReplyCount
	}
	return p, nil
}

// recordID digs the id out of a record that failed to decode, for logging.
func recordID(raw xapi.RawRecord) string {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || len(probe.ID) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(probe.ID, &id); err == nil {
		return id
	}
	return string(probe.ID)
}

// StorePosts persists records for username over a single storage session.
// Bad records and failed inserts are counted and skipped; only failing to
// acquire storage fails the call.
func (f *PostFetcher) StorePosts(ctx context.Context, username string, records []xapi.RawRecord) (StoreResult, error) {
	var result StoreResult
	fetchedAt := f.now()

	err := f.repo.Session(ctx, func(s *repository.Session) error {
		for _, raw := range records {
			post, err := decodeRecord(raw, username)
			if err != nil {
				f.logger.Warnw("Skipping malformed post", "post_id", recordID(raw), "error", err)
				result.Failed++
				continue
			}

			inserted, err := s.InsertPost(ctx, post, fetchedAt)
			if err != nil {
				f.logger.Warnw("Failed to store post", "post_id", post.ID, "error", err)
				result.Failed++
				continue
			}
			if inserted {
				result.New++
			} else {
				result.Duplicate++
			}
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("failed to store posts: %w", err)
	}

	f.metrics.RecordStored(ctx, username, result.New, result.Duplicate, result.Failed)
	return result, nil
}

// RunCycle resolves, fetches and stores the configured account's recent
// posts. Upstream failures abort the cycle and are returned after logging.
func (f *PostFetcher) RunCycle(ctx context.Context) (StoreResult, error) {
	username := f.config.Username
	start := time.Now()

	f.logger.Infow("Starting fetch cycle", "username", username)

	accountID, err := f.ResolveAccount(ctx, username)
	if err != nil {
		f.logUpstreamError("Account lookup failed", username, err)
		f.metrics.RecordCycle(ctx, username, "lookup_failed")
		return StoreResult{}, err
	}

	records, err := f.source.FetchRecentPosts(ctx, accountID, f.config.FetchCount)
	if err != nil {
		f.logUpstreamError("Post fetch failed", username, err)
		f.forgetAccount(ctx, username, err)
		f.metrics.RecordCycle(ctx, username, "fetch_failed")
		return StoreResult{}, err
	}

	if len(records) == 0 {
		f.logger.Infow("No posts found", "username", username, "account_id", accountID)
		f.metrics.RecordCycle(ctx, username, "ok")
		return StoreResult{}, nil
	}

	result, err := f.StorePosts(ctx, username, records)
	if err != nil {
		f.logger.Errorw("Storing posts failed", "username", username, "error", err)
		f.metrics.RecordCycle(ctx, username, "store_failed")
		return result, err
	}

	f.logger.Infow("Fetch cycle complete",
		"username", username,
		"fetched", len(records),
		"new", result.New,
		"duplicate", result.Duplicate,
		"failed", result.Failed,
		"duration", time.Since(start),
	)
	f.metrics.RecordCycle(ctx, username, "ok")
	return result, nil
}

func (f *PostFetcher) logUpstreamError(msg, username string, err error) {
	var apiErr *xapi.APIError
	if errors.As(err, &apiErr) {
		f.logger.Errorw(msg,
			"username", username,
			"status", apiErr.StatusCode,
			"body", apiErr.Body,
		)
		return
	}
	f.logger.Errorw(msg, "username", username, "error", err)
}
