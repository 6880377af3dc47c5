package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitespider/internal/spider"
)

// BlobStore persists an encoded record file and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// FileSink encodes records and writes them as one object named
// <prefix>/<name>-<unix millis>.<ext>.
type FileSink struct {
	store  BlobStore
	format Format
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// FileSinkOption customises a FileSink.
type FileSinkOption func(*FileSink)

// WithPrefix places objects under prefix.
func WithPrefix(prefix string) FileSinkOption {
	return func(s *FileSink) { s.prefix = strings.Trim(prefix, "/") }
}

// WithNow overrides the timestamp source used in object names.
func WithNow(now func() time.Time) FileSinkOption {
	return func(s *FileSink) { s.now = now }
}

// WithLogger sets the sink logger.
func WithLogger(logger *zap.Logger) FileSinkOption {
	return func(s *FileSink) { s.logger = logger }
}

// NewFileSink returns a FileSink writing format to store.
func NewFileSink(store BlobStore, format Format, opts ...FileSinkOption) (*FileSink, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}
	s := &FileSink{
		store:  store,
		format: format,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ObjectPath returns the object path used for name at t.
func (s *FileSink) ObjectPath(name string, t time.Time) string {
	file := fmt.Sprintf("%s-%d.%s", name, t.UnixMilli(), s.format.Extension())
	if s.prefix == "" {
		return file
	}
	return path.Join(s.prefix, file)
}

// Write implements spider.Sink.
func (s *FileSink) Write(ctx context.Context, name string, records []spider.Record) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, s.format, records); err != nil {
		return "", err
	}
	objectPath := s.ObjectPath(name, s.now())
	uri, err := s.store.PutObject(ctx, objectPath, s.format.ContentType(), &buf)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", objectPath, err)
	}
	s.logger.Debug("records file written",
		zap.String("uri", uri),
		zap.String("format", string(s.format)),
		zap.Int("records", len(records)),
	)
	return uri, nil
}

// Multi writes to every sink and joins their errors. The URI of the first
// successful sink is returned.
type Multi []spider.Sink

// Write implements spider.Sink.
func (m Multi) Write(ctx context.Context, name string, records []spider.Record) (string, error) {
	var (
		first string
		errs  []error
	)
	for _, sink := range m {
		uri, err := sink.Write(ctx, name, records)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if first == "" {
			first = uri
		}
	}
	return first, errors.Join(errs...)
}
