package mfclassic

// NonceRequest asks a device for two encrypted nonces of the target sector,
// obtained through a nested authentication under a known key.
type NonceRequest struct {
	KnownBlock    uint8
	KnownKeyType  KeyType
	KnownKey      Key
	TargetBlock   uint8
	TargetKeyType KeyType
	Calibrate     bool // ask the device to re-measure its nonce distance
}

// NonceSample is one nested authentication attempt: the card nonce and the
// first keystream word that encrypted it.
type NonceSample struct {
	NT  uint32
	KS1 uint32
}

// NonceResponse is the device answer to a NonceRequest.
type NonceResponse struct {
	UID     uint32 // cuid used by the cipher
	Block   uint8
	KeyType KeyType
	Samples [2]NonceSample
}
