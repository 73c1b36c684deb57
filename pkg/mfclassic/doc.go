/*
Package mfclassic provides the card-side pieces used by the key recovery
tools for NXP MIFARE Classic (Crypto-1) cards:
  - Card geometry (blocks, sectors, sector trailers)
  - Keys, key files and the A/B key slot
  - CRC-A framing checks for captured ISO 14443-3 frames
  - Card memory images with .eml persistence
  - PC/SC reader access (UID, key check via LOAD KEY / GENERAL AUTHENTICATE, READ BINARY)
  - A card emulator that answers nested and key-check queries and produces captures
  - Device error taxonomy shared by every oracle implementation

# Memory Layout

MIFARE Classic 1K has 16 sectors of 4 blocks; 4K adds 8 sectors of 16 blocks
starting at block 128. Every block is 16 bytes. The last block of each sector
is the sector trailer:

	Bytes 0-5:   Key A       (never readable, reads as 00)
	Bytes 6-8:   Access bits
	Byte  9:     General purpose (user) byte
	Bytes 10-15: Key B       (readable only under some access conditions)

Block 0 is the manufacturer block. For 4-byte UIDs:

	Bytes 0-3:   UID
	Byte  4:     BCC (XOR of UID bytes)
	Byte  5:     SAK
	Bytes 6-7:   ATQA

# Image Files (.eml)

One line per block, 32 upper-case hex characters, ascending block order,
newline terminated. Loading rejects lines shorter than 32 characters (a short
final line at EOF is ignored) and non-hex content; a failed load leaves the
image untouched.

# PC/SC Pseudo-APDUs

Readers following PC/SC part 3 expose MIFARE Classic through pseudo-APDUs.

LOAD KEY (INS 0x82):

	Command:  FF 82 00 <slot> 06 <key(6)>
	Response: SW=9000

GENERAL AUTHENTICATE (INS 0x86):

	Command:  FF 86 00 00 05 01 00 <block> <60|61> <slot>
	Response: SW=9000 on success, SW=6300 on wrong key

	A failed authentication halts the card. The reader must reselect it
	(SCardReconnect) before the next attempt.

READ BINARY (INS 0xB0):

	Command:  FF B0 00 <block> 10
	Response: <data(16)> | SW=9000

GET DATA UID (INS 0xCA):

	Command:  FF CA 00 00 00
	Response: <uid> | SW=9000

Fail states:

	SW=6300  Authentication failed / operation failed
	SW=6982  Security status not satisfied (sector not authenticated)
	SW=6986  Command not allowed (no key loaded in slot)
	SW=6A81  Function not supported by the reader
	SW=6700  Wrong length

# Device Errors

Every oracle reports three kinds of failure:

	*TimeoutError  the device did not answer within the caller's deadline
	*DeviceError   the device answered with a non-zero status (passed through)
	*SWError       a PC/SC command failed with a status word
*/
package mfclassic
