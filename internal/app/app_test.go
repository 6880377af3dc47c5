package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/sitespider/internal/app"
	"github.com/JakeFAU/sitespider/internal/config"
	"github.com/JakeFAU/sitespider/internal/output"
	pubsubpublisher "github.com/JakeFAU/sitespider/internal/publisher/pubsub"
	"github.com/JakeFAU/sitespider/internal/spider"
	"github.com/JakeFAU/sitespider/internal/storage/memory"
)

func newShop(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><body><a href="/catalog/a">Widget</a><a href="/about">About</a></body></html>`)
	})
	mux.HandleFunc("/catalog/a", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><h1> Widget </h1><div class="price" data-value="9.99">9,99</div></body></html>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><p>About us</p><a href="/">Home</a></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) config.Config {
	return config.Config{
		RunID: "run-1",
		Site:  config.SiteConfig{BaseURL: baseURL},
		Crawl: config.CrawlConfig{
			Concurrency:        2,
			Timeout:            5 * time.Second,
			ParseRetries:       200,
			ParseRetryInterval: 5 * time.Millisecond,
			ShutdownGrace:      time.Second,
		},
		Links: config.LinksConfig{Capture: "/catalog/", CaptureKind: "substring"},
		HTTP:  config.HTTPConfig{UserAgent: "sitespider-test", Timeout: 5 * time.Second},
		Extract: config.ExtractConfig{
			Strategy: "selectors",
			Fields: map[string]string{
				"title": "h1",
				"price": "div.price @data-value",
			},
		},
		Output: config.OutputConfig{Format: "json", Store: config.StoreMemory},
	}
}

func newTestPubSub(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "sitespider-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.CreateTopic(ctx, "runs")
	require.NoError(t, err)
	return srv, client
}

func TestRunWritesRecordsAndNotifies(t *testing.T) {
	t.Parallel()

	shop := newShop(t)
	psSrv, psClient := newTestPubSub(t)
	store := memory.NewBlobStore()

	cfg := testConfig(shop.URL + "/")
	cfg.PubSub = config.PubSubConfig{ProjectID: "sitespider-test", Topic: "runs"}

	a, err := app.New(context.Background(), cfg,
		app.WithLogger(zap.NewNop()),
		app.WithBlobStore(store),
		app.WithPubSubClient(psClient),
	)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	assert.Equal(t, "run-1", a.RunID())

	res, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Crawled)
	assert.Equal(t, 1, res.Parsed)
	assert.Zero(t, res.Failed)
	require.Len(t, res.Records, 1)
	assert.Equal(t, spider.Record{
		"url":   shop.URL + "/catalog/a",
		"title": "Widget",
		"price": "9.99",
	}, res.Records[0])

	paths := store.Paths()
	require.Len(t, paths, 1)
	assert.Equal(t, "memory://"+paths[0], res.OutputURI)
	data, contentType, ok := store.Object(paths[0])
	require.True(t, ok)
	assert.Equal(t, "application/json", contentType)
	var stored []spider.Record
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, res.Records, stored)

	msgs := psSrv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, pubsubpublisher.OutcomeSucceeded, msgs[0].Attributes["outcome"])
	var summary pubsubpublisher.Summary
	require.NoError(t, json.Unmarshal(msgs[0].Data, &summary))
	assert.Equal(t, res.OutputURI, summary.OutputURI)
	assert.Equal(t, 1, summary.Parsed)

	runs, err := testutil.GatherAndCount(a.Gatherer(), "spider_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
}

func TestRunSeedDedupsWithDiscoveredRoot(t *testing.T) {
	t.Parallel()

	shop := newShop(t)
	a, err := app.New(context.Background(), testConfig(shop.URL),
		app.WithLogger(zap.NewNop()),
		app.WithBlobStore(memory.NewBlobStore()),
	)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	res, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Crawled, "root must be crawled once whether spelled with or without the slash")
	assert.Equal(t, 1, res.Parsed)
}

func TestRunTimeoutPublishesFailure(t *testing.T) {
	t.Parallel()

	hang := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(hang.Close)
	psSrv, psClient := newTestPubSub(t)

	cfg := testConfig(hang.URL + "/")
	cfg.Crawl.Timeout = 200 * time.Millisecond
	cfg.PubSub = config.PubSubConfig{ProjectID: "sitespider-test", Topic: "runs"}

	a, err := app.New(context.Background(), cfg,
		app.WithLogger(zap.NewNop()),
		app.WithPubSubClient(psClient),
	)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	_, err = a.Run(context.Background())
	require.ErrorIs(t, err, spider.ErrDeadlineExceeded)

	msgs := psSrv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, pubsubpublisher.OutcomeFailed, msgs[0].Attributes["outcome"])
}

func TestNewGeneratesRunID(t *testing.T) {
	t.Parallel()

	cfg := testConfig("https://example.com/")
	cfg.RunID = ""
	a, err := app.New(context.Background(), cfg, app.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	assert.Len(t, a.RunID(), 36)
}

func TestNewLocalStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig("https://example.com/")
	cfg.Output = config.OutputConfig{Format: string(output.FormatCSV), Store: config.StoreLocal, Dir: t.TempDir()}
	a, err := app.New(context.Background(), cfg, app.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	a.Close()
}

func TestNewFailsFast(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"unknown store", func(c *config.Config) { c.Output.Store = "s3" }, "unknown output store"},
		{"unknown strategy", func(c *config.Config) { c.Extract.Strategy = "xpath" }, "init extractor"},
		{"bad capture", func(c *config.Config) { c.Links.CaptureKind = "regex"; c.Links.Capture = "(" }, "init capture matcher"},
		{"bad dsn", func(c *config.Config) { c.Postgres.DSN = "postgres://spider@localhost:notaport/records" }, "init record store"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig("https://example.com/")
			tt.mutate(&cfg)
			_, err := app.New(context.Background(), cfg, app.WithLogger(zap.NewNop()))
			require.ErrorContains(t, err, tt.want)
		})
	}
}
