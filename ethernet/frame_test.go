package ethernet

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	viphost "github.com/hajifkd/virtual-ip-host"
)

func TestAppendFramePadsToMinimum(t *testing.T) {
	src := viphost.MACAddr{0x02, 0, 0, 0xef, 0x24, 0xa8}
	payload := []byte{1, 2, 3, 4}
	buf := AppendFrame(nil, viphost.BroadcastMAC, src, viphost.EtherTypeARP, payload)
	require.Len(t, buf, MinFrameSize)

	pkt := gopacket.NewPacket(buf, layers.LayerTypeEthernet, gopacket.Default)
	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.True(t, ok)
	assert.Equal(t, layers.EthernetTypeARP, eth.EthernetType)
	assert.Equal(t, src[:], []byte(eth.SrcMAC))
	assert.Equal(t, viphost.BroadcastMAC[:], []byte(eth.DstMAC))

	efrm, err := NewFrame(buf)
	require.NoError(t, err)
	assert.True(t, efrm.IsBroadcast())
	assert.Equal(t, src, *efrm.SourceHardwareAddr())
	assert.Equal(t, payload, efrm.Payload()[:len(payload)])
}

func TestAppendFrameKeepsLargePayload(t *testing.T) {
	payload := make([]byte, 100)
	buf := AppendFrame([]byte{0xaa}, viphost.MACAddr{1}, viphost.MACAddr{2}, viphost.EtherTypeIPv4, payload)
	assert.Len(t, buf, 1+SizeHeader+len(payload))
	assert.Equal(t, byte(0xaa), buf[0], "existing data must be kept")
}

func TestNewFrameShort(t *testing.T) {
	_, err := NewFrame(make([]byte, SizeHeader-1))
	assert.Error(t, err)

	efrm, err := NewFrame(make([]byte, SizeHeader+2))
	require.NoError(t, err)
	efrm.SetEtherType(viphost.EtherType(10)) // Size field larger than payload.
	var v viphost.Validator
	efrm.ValidateSize(&v)
	assert.True(t, v.HasError())
}
