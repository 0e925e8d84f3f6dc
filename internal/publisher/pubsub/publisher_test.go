package pubsub

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/require"
)

type fakeResult struct {
	id  string
	err error
}

func (r fakeResult) Get(context.Context) (string, error) {
	return r.id, r.err
}

func TestPublisherPublishesJSON(t *testing.T) {
	t.Parallel()

	var gotTopic string
	var gotMsg *pubsub.Message
	pub := newWithPublisher(func(_ context.Context, topic string, msg *pubsub.Message) publishResult {
		gotTopic = topic
		gotMsg = msg
		return fakeResult{id: "msg-1"}
	})

	id, err := pub.Publish(context.Background(), "products", map[string]int{"price": 10})
	require.NoError(t, err)
	require.Equal(t, "msg-1", id)
	require.Equal(t, "products", gotTopic)
	require.JSONEq(t, `{"price":10}`, string(gotMsg.Data))
	require.Equal(t, "application/json", gotMsg.Attributes["content-type"])
	require.NoError(t, pub.Close())
}

func TestPublisherErrors(t *testing.T) {
	t.Parallel()

	pub := newWithPublisher(func(context.Context, string, *pubsub.Message) publishResult {
		return fakeResult{err: errors.New("unavailable")}
	})
	_, err := pub.Publish(context.Background(), "products", "x")
	require.ErrorContains(t, err, "unavailable")

	_, err = pub.Publish(context.Background(), "", "x")
	require.Error(t, err)

	_, err = pub.Publish(context.Background(), "products", make(chan int))
	require.ErrorContains(t, err, "marshal payload")

	_, err = (&Publisher{}).Publish(context.Background(), "products", "x")
	require.Error(t, err)
}
