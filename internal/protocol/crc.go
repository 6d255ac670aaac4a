package protocol

// CRC16 computes the Modbus RTU checksum: polynomial 0xA001 (reversed
// 0x8005), initial value 0xFFFF, LSB-first per byte. Appended to the
// frame low byte first.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// crcDNP computes the DNP3 data-link checksum: polynomial 0x3D65
// (reversed 0xA6BC), initial value 0x0000, ones-complemented output,
// transmitted low byte first.
func crcDNP(data []byte) uint16 {
	crc := uint16(0)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0xA6BC
			} else {
				crc >>= 1
			}
		}
	}
	return ^crc
}
