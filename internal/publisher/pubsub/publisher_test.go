package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/sitespider/internal/spider"
)

func newTestTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
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

	topic, err := client.CreateTopic(ctx, "runs")
	require.NoError(t, err)
	return srv, topic
}

func TestPublishSummary(t *testing.T) {
	t.Parallel()

	srv, topic := newTestTopic(t)
	pub := New(topic)
	t.Cleanup(pub.Stop)

	finished := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	summary := NewSummary("run-1", "https://example.com/", spider.Result{
		Crawled:   2,
		Accepted:  1,
		Parsed:    1,
		Elapsed:   1500 * time.Millisecond,
		OutputURI: "file:///tmp/example.com-1.json",
	}, nil, finished)

	id, err := pub.Publish(context.Background(), summary)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "run-1", msgs[0].Attributes["run_id"])
	require.Equal(t, OutcomeSucceeded, msgs[0].Attributes["outcome"])

	var got Summary
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, summary, got)
	require.InDelta(t, 1.5, got.ElapsedSeconds, 0.0001)
}

func TestNewSummaryFailure(t *testing.T) {
	t.Parallel()

	s := NewSummary("run-2", "https://example.com/", spider.Result{}, errors.New("crawl deadline exceeded"), time.Now())
	require.Equal(t, OutcomeFailed, s.Outcome)
	require.Equal(t, "crawl deadline exceeded", s.Error)
	require.Equal(t, time.UTC, s.FinishedAt.Location())
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), Summary{})
	require.Error(t, err)
}
