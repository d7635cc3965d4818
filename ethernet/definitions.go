package ethernet

const (
	// SizeHeader is the length of an untagged Ethernet header.
	SizeHeader = 14
	// minPayload is the minimum payload size for an Ethernet frame, assuming
	// that no 802.1Q VLAN tags are present.
	minPayload = 46
	// MinFrameSize is the smallest frame put on the wire, FCS excluded.
	MinFrameSize = SizeHeader + minPayload
)
