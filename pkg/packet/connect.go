package packet

// Connect represents an MQTT CONNECT packet.
// MQTT 3.1.1 Section 3.1
type Connect struct {
	// Protocol identification
	ProtocolName    string  // Must be "MQTT"
	ProtocolVersion Version // Must be Version311

	// Connect flags
	CleanStart   bool // Clean Session
	WillFlag     bool
	WillQoS      QoS
	WillRetain   bool
	PasswordFlag bool
	UsernameFlag bool

	// Keep alive (seconds)
	KeepAlive uint16

	// Payload fields
	ClientID    string
	WillTopic   string
	WillPayload []byte
	Username    string
	Password    []byte
}

// Type returns TypeConnect.
func (c *Connect) Type() Type {
	return TypeConnect
}

// connectFlagBits defines the bit positions in the connect flags byte.
const (
	connectFlagCleanStart = 1 << 1
	connectFlagWill       = 1 << 2
	connectFlagWillRetain = 1 << 5
	connectFlagPassword   = 1 << 6
	connectFlagUsername   = 1 << 7
)

// EncodedSize returns the total size of the encoded CONNECT packet.
func (c *Connect) EncodedSize() int {
	// Variable header: protocol name (2 + len) + version (1) + flags (1) + keepalive (2)
	varHeaderSize := 2 + len(c.ProtocolName) + 1 + 1 + 2

	// Payload
	payloadSize := 2 + len(c.ClientID) // Client ID always present

	if c.WillFlag {
		payloadSize += 2 + len(c.WillTopic)
		payloadSize += 2 + len(c.WillPayload)
	}

	if c.UsernameFlag {
		payloadSize += 2 + len(c.Username)
	}

	if c.PasswordFlag {
		payloadSize += 2 + len(c.Password)
	}

	remainingLength := varHeaderSize + payloadSize
	return FixedHeaderSize(uint32(remainingLength)) + remainingLength
}

// Encode encodes the CONNECT packet into buf.
// Returns the number of bytes written, or 0 on error.
func (c *Connect) Encode(buf []byte) int {
	size := c.EncodedSize()
	if len(buf) < size {
		return 0
	}

	varHeaderSize := 2 + len(c.ProtocolName) + 1 + 1 + 2
	payloadSize := 2 + len(c.ClientID)
	if c.WillFlag {
		payloadSize += 2 + len(c.WillTopic)
		payloadSize += 2 + len(c.WillPayload)
	}
	if c.UsernameFlag {
		payloadSize += 2 + len(c.Username)
	}
	if c.PasswordFlag {
		payloadSize += 2 + len(c.Password)
	}

	remainingLength := uint32(varHeaderSize + payloadSize)

	// Fixed header
	pos := EncodeFixedHeader(buf, TypeConnect, 0, remainingLength)
	if pos == 0 {
		return 0
	}

	// Variable header
	pos += EncodeString(buf[pos:], c.ProtocolName)

	buf[pos] = byte(c.ProtocolVersion)
	pos++

	var flags byte
	if c.CleanStart {
		flags |= connectFlagCleanStart
	}
	if c.WillFlag {
		flags |= connectFlagWill
		flags |= byte(c.WillQoS) << 3
		if c.WillRetain {
			flags |= connectFlagWillRetain
		}
	}
	if c.PasswordFlag {
		flags |= connectFlagPassword
	}
	if c.UsernameFlag {
		flags |= connectFlagUsername
	}
	buf[pos] = flags
	pos++

	pos += EncodeUint16(buf[pos:], c.KeepAlive)

	// Payload
	pos += EncodeString(buf[pos:], c.ClientID)

	if c.WillFlag {
		pos += EncodeString(buf[pos:], c.WillTopic)
		pos += EncodeBytes(buf[pos:], c.WillPayload)
	}

	if c.UsernameFlag {
		pos += EncodeString(buf[pos:], c.Username)
	}

	if c.PasswordFlag {
		pos += EncodeBytes(buf[pos:], c.Password)
	}

	return pos
}

// DecodeConnect decodes a CONNECT packet from buf.
// buf should contain the packet data starting after the fixed header.
func DecodeConnect(buf []byte) (*Connect, error) {
	if len(buf) < 10 {
		return nil, ErrIncompletePacket
	}

	c := &Connect{}
	pos := 0

	// Protocol name
	name, n, ok := DecodeStringCopy(buf[pos:])
	if !ok {
		return nil, ErrIncompletePacket
	}
	c.ProtocolName = name
	pos += n

	if c.ProtocolName != "MQTT" {
		return nil, ErrInvalidProtocolName
	}

	// Protocol version
	if pos >= len(buf) {
		return nil, ErrIncompletePacket
	}
	c.ProtocolVersion = Version(buf[pos])
	pos++

	if c.ProtocolVersion != Version311 {
		return nil, ErrInvalidProtocolVersion
	}

	// Connect flags
	if pos >= len(buf) {
		return nil, ErrIncompletePacket
	}
	flags := buf[pos]
	pos++

	// Reserved bit must be 0
	if flags&0x01 != 0 {
		return nil, ErrMalformedPacket
	}

	c.CleanStart = flags&connectFlagCleanStart != 0
	c.WillFlag = flags&connectFlagWill != 0
	c.WillQoS = QoS((flags >> 3) & 0x03)
	c.WillRetain = flags&connectFlagWillRetain != 0
	c.PasswordFlag = flags&connectFlagPassword != 0
	c.UsernameFlag = flags&connectFlagUsername != 0

	if !c.WillFlag {
		if c.WillQoS != 0 || c.WillRetain {
			return nil, ErrMalformedPacket
		}
	} else if !c.WillQoS.Valid() {
		return nil, ErrInvalidQoS
	}

	// Password requires Username
	if c.PasswordFlag && !c.UsernameFlag {
		return nil, ErrMalformedPacket
	}

	// Keep alive
	if pos+2 > len(buf) {
		return nil, ErrIncompletePacket
	}
	c.KeepAlive, _, _ = DecodeUint16(buf[pos:])
	pos += 2

	// Payload

	// Client ID (always present)
	clientID, n, ok := DecodeStringCopy(buf[pos:])
	if !ok {
		return nil, ErrIncompletePacket
	}
	c.ClientID = clientID
	pos += n

	if c.WillFlag {
		topic, n, ok := DecodeStringCopy(buf[pos:])
		if !ok {
			return nil, ErrIncompletePacket
		}
		c.WillTopic = topic
		pos += n

		payload, n, ok := DecodeString(buf[pos:])
		if !ok {
			return nil, ErrIncompletePacket
		}
		c.WillPayload = make([]byte, len(payload))
		copy(c.WillPayload, payload)
		pos += n
	}

	if c.UsernameFlag {
		username, n, ok := DecodeStringCopy(buf[pos:])
		if !ok {
			return nil, ErrIncompletePacket
		}
		c.Username = username
		pos += n
	}

	if c.PasswordFlag {
		password, n, ok := DecodeString(buf[pos:])
		if !ok {
			return nil, ErrIncompletePacket
		}
		c.Password = make([]byte, len(password))
		copy(c.Password, password)
		pos += n
	}

	return c, nil
}
