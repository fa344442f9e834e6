package packet

// Connack represents an MQTT CONNACK packet.
// MQTT 3.1.1 Section 3.2
type Connack struct {
	SessionPresent bool
	ReturnCode     ConnackReturnCode
}

// Type returns TypeConnack.
func (c *Connack) Type() Type {
	return TypeConnack
}

// EncodedSize returns the total size of the encoded CONNACK packet.
func (c *Connack) EncodedSize() int {
	varHeaderSize := 2 // Acknowledge flags (1) + Return code (1)
	return FixedHeaderSize(uint32(varHeaderSize)) + varHeaderSize
}

// Encode encodes the CONNACK packet into buf.
// Returns the number of bytes written, or 0 on error.
func (c *Connack) Encode(buf []byte) int {
	size := c.EncodedSize()
	if len(buf) < size {
		return 0
	}

	pos := EncodeFixedHeader(buf, TypeConnack, 0, 2)
	if pos == 0 {
		return 0
	}

	if c.SessionPresent {
		buf[pos] = 0x01
	} else {
		buf[pos] = 0x00
	}
	pos++

	buf[pos] = byte(c.ReturnCode)
	pos++

	return pos
}

// DecodeConnack decodes a CONNACK packet from buf.
// buf should contain the packet data starting after the fixed header.
func DecodeConnack(buf []byte) (*Connack, error) {
	if len(buf) < 2 {
		return nil, ErrIncompletePacket
	}

	c := &Connack{}

	ackFlags := buf[0]
	// Bits 7-1 must be 0
	if ackFlags&0xFE != 0 {
		return nil, ErrMalformedPacket
	}
	c.SessionPresent = ackFlags&0x01 != 0
	c.ReturnCode = ConnackReturnCode(buf[1])

	return c, nil
}

// NewConnack creates a new CONNACK packet.
func NewConnack(sessionPresent bool, code ConnackReturnCode) *Connack {
	return &Connack{
		SessionPresent: sessionPresent,
		ReturnCode:     code,
	}
}
