package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdcatalog/internal/model"
)

func startTestNATS(t *testing.T) string {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err, "starting embedded NATS")
	srv.Start()
	t.Cleanup(srv.Shutdown)
	require.True(t, srv.ReadyForConnections(5*time.Second), "embedded NATS not ready")
	return srv.ClientURL()
}

func subscribe(t *testing.T, url, subject string, size int) chan *nats.Msg {
	t.Helper()
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	ch := make(chan *nats.Msg, size)
	_, err = nc.ChanSubscribe(subject, ch)
	require.NoError(t, err)
	require.NoError(t, nc.Flush())
	return ch
}

func receive(t *testing.T, ch chan *nats.Msg) *nats.Msg {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
		return nil
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "catalog.TaxGroup.created", Subject("catalog", "TaxGroup", ActionCreated))
	assert.Equal(t, "catalog.TaxGroup.updated", Subject("", "TaxGroup", ActionUpdated))
	assert.Equal(t, "erp.md.Site.blocked", Subject("erp.md.", "Site", BlockAction(true)))
	assert.Equal(t, ActionUnblocked, BlockAction(false))
}

func TestNoopPublisher(t *testing.T) {
	var pub Publisher = &NoopPublisher{}
	assert.NoError(t, pub.Publish(context.Background(), "catalog.X.created", EntityCreated{}))
	assert.NoError(t, pub.Close())
}

func TestNATSPublisher_Publish(t *testing.T) {
	url := startTestNATS(t)
	ch := subscribe(t, url, Subject(DefaultPrefix, "SalesRegion", ActionCreated), 1)

	pub, err := NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()

	ent := &model.Entity{ID: "01J", Kind: "SalesRegion", Fields: map[string]any{"code": "N"}}
	require.NoError(t, pub.Publish(context.Background(), Subject(DefaultPrefix, "SalesRegion", ActionCreated), EntityCreated{Entity: ent}))
	require.NoError(t, pub.Flush(time.Second))

	var got EntityCreated
	require.NoError(t, json.Unmarshal(receive(t, ch).Data, &got))
	assert.Equal(t, "01J", got.Entity.ID)
	assert.Equal(t, "N", got.Entity.Fields["code"])
}

func TestNATSPublisher_Wildcard(t *testing.T) {
	url := startTestNATS(t)
	ch := subscribe(t, url, "catalog.>", 4)

	pub, err := NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, Subject("", "Site", ActionCreated), EntityCreated{}))
	require.NoError(t, pub.Publish(ctx, Subject("", "Site", ActionUpdated), EntityUpdated{Changes: map[string]any{"name": nil}}))
	require.NoError(t, pub.Publish(ctx, Subject("", "Site", ActionBlocked), StatusChanged{Kind: "Site", ID: "s1", Blocked: true}))
	require.NoError(t, pub.Flush(time.Second))

	var subjects []string
	for range 3 {
		subjects = append(subjects, receive(t, ch).Subject)
	}
	assert.Equal(t, []string{"catalog.Site.created", "catalog.Site.updated", "catalog.Site.blocked"}, subjects)
}

func TestNATSPublisher_CanceledContext(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, "catalog.X.created", EntityCreated{}), context.Canceled)
}

func TestNewNATSPublisher_Unreachable(t *testing.T) {
	_, err := NewNATSPublisher("nats://127.0.0.1:1", nats.Timeout(200*time.Millisecond), nats.NoReconnect())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to NATS")
}
