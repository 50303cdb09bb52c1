package protocol

// XModem control bytes
const (
	SOH = 0x01 // start of 128-byte block
	STX = 0x02 // start of 1024-byte block
	EOT = 0x04 // end of transmission
	ACK = 0x06
	NAK = 0x15
	CAN = 0x18 // cancel, must arrive twice
	CRQ = 0x43 // 'C', request CRC mode
	SUB = 0x1A // CP/M EOF, pads the last block
)

// Block geometry
const (
	BlockSize   = 128
	BlockSize1K = 1024
	HeaderSize  = 3 // marker, sequence, complement
	TrailerSize = 2 // big-endian CRC
)

// DefaultRetries is the bootrom's retry budget for every protocol phase.
const DefaultRetries = 10

// PayloadSize returns the payload length announced by a block marker,
// or 0 if b is not a block marker.
func PayloadSize(marker byte) int {
	switch marker {
	case SOH:
		return BlockSize
	case STX:
		return BlockSize1K
	default:
		return 0
	}
}

// ControlName returns a human-readable name for a control byte.
func ControlName(b byte) string {
	switch b {
	case SOH:
		return "SOH"
	case STX:
		return "STX"
	case EOT:
		return "EOT"
	case ACK:
		return "ACK"
	case NAK:
		return "NAK"
	case CAN:
		return "CAN"
	case CRQ:
		return "CRQ"
	case SUB:
		return "SUB"
	default:
		return "unknown"
	}
}
