package packet

// Subscription represents a single topic subscription.
type Subscription struct {
	TopicFilter string
	QoS         QoS
}

// Subscribe represents an MQTT SUBSCRIBE packet.
// MQTT 3.1.1 Section 3.8
type Subscribe struct {
	PacketID      uint16
	Subscriptions []Subscription
}

// Type returns TypeSubscribe.
func (s *Subscribe) Type() Type {
	return TypeSubscribe
}

// EncodedSize returns the total size of the encoded SUBSCRIBE packet.
func (s *Subscribe) EncodedSize() int {
	varHeaderSize := 2 // Packet ID

	payloadSize := 0
	for _, sub := range s.Subscriptions {
		payloadSize += 2 + len(sub.TopicFilter) + 1 // length + topic + options byte
	}

	remainingLength := varHeaderSize + payloadSize
	return FixedHeaderSize(uint32(remainingLength)) + remainingLength
}

// Encode encodes the SUBSCRIBE packet into buf.
func (s *Subscribe) Encode(buf []byte) int {
	size := s.EncodedSize()
	if len(buf) < size {
		return 0
	}

	varHeaderSize := 2
	payloadSize := 0
	for _, sub := range s.Subscriptions {
		payloadSize += 2 + len(sub.TopicFilter) + 1
	}

	remainingLength := uint32(varHeaderSize + payloadSize)

	// Fixed header (SUBSCRIBE has reserved flags 0010)
	pos := EncodeFixedHeader(buf, TypeSubscribe, SubscribeFlags, remainingLength)
	if pos == 0 {
		return 0
	}

	pos += EncodeUint16(buf[pos:], s.PacketID)

	for _, sub := range s.Subscriptions {
		pos += EncodeString(buf[pos:], sub.TopicFilter)
		buf[pos] = byte(sub.QoS)
		pos++
	}

	return pos
}

// DecodeSubscribe decodes a SUBSCRIBE packet from buf.
func DecodeSubscribe(buf []byte) (*Subscribe, error) {
	if len(buf) < 5 { // Minimum: packet ID + one subscription
		return nil, ErrIncompletePacket
	}

	s := &Subscribe{}
	pos := 0

	packetID, n, ok := DecodeUint16(buf[pos:])
	if !ok {
		return nil, ErrIncompletePacket
	}
	if packetID == 0 {
		return nil, ErrInvalidPacketID
	}
	s.PacketID = packetID
	pos += n

	for pos < len(buf) {
		topic, n, ok := DecodeStringCopy(buf[pos:])
		if !ok {
			return nil, ErrIncompletePacket
		}
		pos += n

		if pos >= len(buf) {
			return nil, ErrIncompletePacket
		}
		options := buf[pos]
		pos++

		// Reserved bits (7-2) must be 0
		if options&0xFC != 0 {
			return nil, ErrMalformedPacket
		}

		sub := Subscription{
			TopicFilter: topic,
			QoS:         QoS(options & 0x03),
		}
		if !sub.QoS.Valid() {
			return nil, ErrInvalidQoS
		}

		s.Subscriptions = append(s.Subscriptions, sub)
	}

	if len(s.Subscriptions) == 0 {
		return nil, ErrMalformedPacket
	}

	return s, nil
}

// Suback represents an MQTT SUBACK packet.
// MQTT 3.1.1 Section 3.9
type Suback struct {
	PacketID    uint16
	ReturnCodes []byte
}

// Type returns TypeSuback.
func (s *Suback) Type() Type {
	return TypeSuback
}

// EncodedSize returns the total size of the encoded SUBACK packet.
func (s *Suback) EncodedSize() int {
	varHeaderSize := 2 // Packet ID
	payloadSize := len(s.ReturnCodes)
	remainingLength := varHeaderSize + payloadSize
	return FixedHeaderSize(uint32(remainingLength)) + remainingLength
}

// Encode encodes the SUBACK packet into buf.
func (s *Suback) Encode(buf []byte) int {
	size := s.EncodedSize()
	if len(buf) < size {
		return 0
	}

	remainingLength := uint32(2 + len(s.ReturnCodes))

	pos := EncodeFixedHeader(buf, TypeSuback, 0, remainingLength)
	if pos == 0 {
		return 0
	}

	pos += EncodeUint16(buf[pos:], s.PacketID)

	copy(buf[pos:], s.ReturnCodes)
	pos += len(s.ReturnCodes)

	return pos
}

// DecodeSuback decodes a SUBACK packet from buf.
func DecodeSuback(buf []byte) (*Suback, error) {
	if len(buf) < 3 { // Minimum: packet ID + one return code
		return nil, ErrIncompletePacket
	}

	s := &Suback{}
	pos := 0

	packetID, n, ok := DecodeUint16(buf[pos:])
	if !ok {
		return nil, ErrIncompletePacket
	}
	s.PacketID = packetID
	pos += n

	s.ReturnCodes = make([]byte, len(buf)-pos)
	copy(s.ReturnCodes, buf[pos:])

	return s, nil
}

// NewSuback creates a new SUBACK packet.
func NewSuback(packetID uint16, codes []byte) *Suback {
	return &Suback{
		PacketID:    packetID,
		ReturnCodes: codes,
	}
}
