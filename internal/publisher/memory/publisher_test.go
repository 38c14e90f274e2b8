package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-enricher/internal/publisher"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), publisher.Notification{Kind: publisher.KindItemDone, ASIN: "B000000001"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), publisher.Notification{Kind: publisher.KindRunFinished, Status: "done"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, publisher.KindRunFinished, msgs[1].Kind)

	msgs[0].ASIN = "modified"
	require.Equal(t, "B000000001", pub.Messages()[0].ASIN)
}
