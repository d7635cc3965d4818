package viphost

import (
	"encoding/binary"
)

// CRC791 function as defined by RFC 791. The Checksum field for IP and ICMP
// is the 16-bit ones' complement of the ones' complement sum of
// all 16-bit words in the covered data. In case of uneven number of octets the
// last word is LSB padded with zeros.
//
// The zero value of CRC791 is ready to use.
type CRC791 struct {
	sum uint32
}

func checksum16(sum uint32) uint16 {
	for sum > 0xffff {
		sum = (sum & 0xffff) + sum>>16
	}
	return ^uint16(sum)
}

func checksumWriteEven(sum uint32, buff []byte) uint32 {
	for i := 0; i+1 < len(buff); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(buff[i:]))
		if sum > 0xffff_0000 {
			// Fold early so long buffers never overflow the accumulator.
			sum = (sum & 0xffff) + sum>>16
		}
	}
	return sum
}

// WriteEven adds the bytes in buff to the running checksum. The buffer length must be even,
// a trailing odd byte is ignored. Use [CRC791.PayloadSum16] for the final odd-length segment.
func (c *CRC791) WriteEven(buff []byte) {
	c.sum = checksumWriteEven(c.sum, buff)
}

// AddUint32 adds a 32 bit value to the running checksum interpreted as BigEndian (network order).
func (c *CRC791) AddUint32(value uint32) {
	c.AddUint16(uint16(value >> 16))
	c.AddUint16(uint16(value))
}

// AddUint16 adds a 16 bit value to the running checksum interpreted as BigEndian (network order).
func (c *CRC791) AddUint16(value uint16) {
	c.sum += uint32(value)
}

// Sum16 calculates the checksum with the data written to c thus far.
func (c *CRC791) Sum16() uint16 {
	return checksum16(c.sum)
}

// PayloadSum16 returns the checksum resulting by adding the bytes in buff to the running checksum.
// The running checksum is not modified.
func (c *CRC791) PayloadSum16(buff []byte) uint16 {
	odd := len(buff) & 1
	sum := checksumWriteEven(c.sum, buff[:len(buff)-odd])
	if odd > 0 {
		sum += uint32(buff[len(buff)-1]) << 8
	}
	return checksum16(sum)
}

// Reset zeros out the CRC791, resetting it to the initial state.
func (c *CRC791) Reset() { *c = CRC791{} }

// Checksum returns the internet checksum of b. Stored in network order in a
// header's checksum field, it makes the checksum over the whole covered
// region evaluate to zero, which is how received headers are validated.
func Checksum(b []byte) uint16 {
	var crc CRC791
	return crc.PayloadSum16(b)
}
