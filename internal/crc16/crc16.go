package crc16

// Polynomial is the CCITT generator polynomial x^16 + x^12 + x^5 + 1.
const Polynomial = 0x1021

// Checksum computes the CRC-16/CCITT used by XModem over data.
// The register starts at zero and no final XOR is applied.
func Checksum(data []byte) uint16 {
	return Update(0, data)
}

// Update continues a checksum over additional data.
func Update(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ Polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
