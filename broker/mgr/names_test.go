package mgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueNameSessionTransport(t *testing.T) {
	got := QueueName(TransportSession, EntityApplication, "unit1", "app1", ChannelUlData)
	assert.Equal(t, "broker.application.unit1.app1.uldata", got)
}

func TestQueueNameTopicTransport(t *testing.T) {
	got := QueueName(TransportTopic, EntityNetwork, "unit1", "net1", ChannelDlDataResult)
	assert.Equal(t, "broker/network/unit1/net1/dldata-result", got)
}

func TestQueueNamePublicNetworkEmptyUnitSegment(t *testing.T) {
	got := QueueName(TransportSession, EntityNetwork, "", "public-net", ChannelCtrl)
	assert.Equal(t, "broker.network..public-net.ctrl", got)
}

func TestManagerKey(t *testing.T) {
	assert.Equal(t, "unit1.app1", ManagerKey("unit1", "app1"))
}
