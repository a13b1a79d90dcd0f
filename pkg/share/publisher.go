// Package share publishes finished podcasts to an object store under short
// share ids and resolves those ids back to playable links.
package share

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/quickcast/pkg/audio"
	"github.com/3leaps/quickcast/pkg/provider"
)

const (
	// DefaultRetention is how long a shared podcast stays available.
	DefaultRetention = 72 * time.Hour

	// DefaultLookupTTL is the validity of links issued on lookup.
	DefaultLookupTTL = time.Hour

	// DefaultTitle is reported for shares published without a title.
	DefaultTitle = "QuickCast Podcast"

	idLength = 8
)

var (
	// ErrNotFound is returned for unknown or malformed share ids.
	ErrNotFound = errors.New("share not found")

	// ErrPublish marks failures while uploading a podcast.
	ErrPublish = errors.New("publish failed")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// ValidID reports whether id is safe to use as an object key stem.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Metadata describes a podcast being published. Text fields are stored as
// object metadata capped at MaxMetadataValue bytes once encoded, so a title
// or author longer than about 760 bytes comes back from Lookup shortened.
type Metadata struct {
	Title     string
	Author    string
	SourceURL string
	Duration  float64
}

// Published is the result of a successful Publish.
type Published struct {
	ShareID    string    `json:"share_id"`
	Key        string    `json:"key"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploaded_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Info is what Lookup reports about a share.
type Info struct {
	ShareID   string    `json:"share_id" yaml:"share_id"`
	Title     string    `json:"title" yaml:"title"`
	Author    string    `json:"author" yaml:"author"`
	SourceURL string    `json:"source_url" yaml:"source_url"`
	Duration  float64   `json:"duration" yaml:"duration"`
	AudioURL  string    `json:"audio_url" yaml:"audio_url"`
	Size      int64     `json:"size" yaml:"size"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
	Expired   bool      `json:"expired" yaml:"expired"`
}

// Publisher uploads podcasts and resolves share ids.
type Publisher struct {
	store     provider.ObjectStore
	retention time.Duration
	lookupTTL time.Duration
	now       func() time.Time
	newID     func() string
	logger    *zap.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithRetention sets how long shares stay available.
func WithRetention(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.retention = d
		}
	}
}

// WithLookupTTL sets the validity of links issued by Lookup.
func WithLookupTTL(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.lookupTTL = d
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// WithIDGenerator replaces the share id source.
func WithIDGenerator(fn func() string) Option {
	return func(p *Publisher) { p.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPublisher returns a Publisher writing to store.
func NewPublisher(store provider.ObjectStore, opts ...Option) *Publisher {
	p := &Publisher{
		store:     store,
		retention: DefaultRetention,
		lookupTTL: DefaultLookupTTL,
		now:       time.Now,
		newID:     newShareID,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func newShareID() string {
	return uuid.New().String()[:idLength]
}

// Retention returns the configured share lifetime.
func (p *Publisher) Retention() time.Duration { return p.retention }

func objectKey(id string) string { return id + ".wav" }

// publishFailed tags err with ErrPublish while keeping the store error
// reachable through errors.Is.
func publishFailed(err error) error {
	return fmt.Errorf("%w: %w", ErrPublish, err)
}

// Publish uploads the WAV at path and returns its share id and link.
func (p *Publisher) Publish(ctx context.Context, path string, meta Metadata) (*Published, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, publishFailed(errors.Wrapf(err, "open %s", path))
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, publishFailed(errors.Wrapf(err, "stat %s", path))
	}

	id := p.newID()
	key := objectKey(id)
	uploaded := p.now().UTC()
	expires := uploaded.Add(p.retention)

	err = p.store.Put(ctx, key, f, st.Size(), provider.PutOptions{
		ContentType: audio.ContentType,
		Metadata:    encodeMetadata(meta, uploaded, expires),
	})
	if err != nil {
		return nil, publishFailed(errors.Wrapf(err, "upload %s", key))
	}

	link, err := p.store.URL(ctx, key, p.retention)
	if err != nil {
		return nil, publishFailed(errors.Wrapf(err, "link %s", key))
	}

	p.logger.Info("Published podcast",
		zap.String("share_id", id),
		zap.Int64("bytes", st.Size()),
		zap.Time("expires_at", expires))

	return &Published{
		ShareID:    id,
		Key:        key,
		URL:        link,
		UploadedAt: uploaded,
		ExpiresAt:  expires,
	}, nil
}

// Lookup resolves a share id. Unknown or malformed ids yield ErrNotFound.
func (p *Publisher) Lookup(ctx context.Context, id string) (*Info, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}
	key := objectKey(id)

	meta, err := p.store.Head(ctx, key)
	if err != nil {
		if provider.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "lookup share %s", id)
	}

	link, err := p.store.URL(ctx, key, p.lookupTTL)
	if err != nil {
		return nil, errors.Wrapf(err, "link share %s", id)
	}

	info := &Info{
		ShareID:  id,
		Title:    DecodeText(meta.Metadata[MetaTitle]),
		Author:   DecodeText(meta.Metadata[MetaAuthor]),
		AudioURL: link,
		Size:     meta.Size,
	}
	if info.Title == "" {
		info.Title = DefaultTitle
	}
	info.SourceURL = DecodeText(meta.Metadata[MetaSourceURL])
	if d, err := strconv.ParseFloat(meta.Metadata[MetaDuration], 64); err == nil {
		info.Duration = d
	}
	info.CreatedAt = parseTime(meta.Metadata[MetaCreatedAt])
	if info.CreatedAt.IsZero() {
		info.CreatedAt = meta.LastModified
	}
	info.ExpiresAt = parseTime(meta.Metadata[MetaExpiresAt])
	if !info.ExpiresAt.IsZero() {
		info.Expired = !p.now().Before(info.ExpiresAt)
	}
	return info, nil
}

// Delete removes a share. Deleting an unknown id is not an error.
func (p *Publisher) Delete(ctx context.Context, id string) error {
	if !ValidID(id) {
		return ErrNotFound
	}
	if err := p.store.Delete(ctx, objectKey(id)); err != nil {
		return errors.Wrapf(err, "delete share %s", id)
	}
	return nil
}
