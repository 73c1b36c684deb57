/*
Package mftrace decodes sniffed MIFARE Classic traffic.

A Decoder follows the exchange between one reader and one card:

	IDLE --60/61 blk--> AUTH1 --nt(4)--> AUTH2 --nr,ar(8)--> AUTH_OK --at(4)--> IDLE
	IDLE --30 blk--> READ_DATA --data+crc(18)--> IDLE
	IDLE --A0 blk--> WRITE_OK --ACK(4 bit)--> WRITE_DATA --data+crc(18)--> IDLE
	IDLE --50 00--> ERROR

Every completed authentication reveals the sector key: ar and at give 64
keystream bits, which pin down the cipher state; rolling it back over the
reader nonce and cuid XOR nt yields the key. The same state then decrypts the
rest of the session. Any frame with an unexpected length, and a CRC failure on
a command, stops decoding until Reset.

Capture files are pcap with link type USER0 (147). Each record is a direction
byte (0 reader to card, 1 card to reader) followed by the raw frame.
*/
package mftrace
