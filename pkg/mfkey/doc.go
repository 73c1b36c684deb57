/*
Package mfkey recovers MIFARE Classic sector keys.

# Nested Attack

With one sector key known, a reader can authenticate a second sector while the
first session is still running. The card then sends its nonce nt encrypted
under the target key: nt XOR ks1. A device that predicts nt (the card PRNG is
only 16 bits wide) hands out (nt, ks1) pairs. Each pair yields every 48-bit
state that produces ks1 while cuid XOR nt is clocked in, about 2^16 states.

Two samples of the same target key give two lists. After the nonce word the
oldest 16 bits of every true state still hold key bits, so the lists are
first joined on those bits (Fingerprint), rolled back over their own nonce,
and then joined on the full value. The survivors are checked with the key
oracle.

# Brute Force

When only the last four key bytes are known, BruteForce walks the 65536
values of the first two bytes through the oracle in batches of MaxBatch.

# Legacy Codes

LegacyCode keeps the integer results of the Proxmark client: -1 timeout,
device status passed through, -4 not found, -5 found.
*/
package mfkey
