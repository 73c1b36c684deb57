package mfkey

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/barnettlynn/mfkey/pkg/mfclassic"
)

// NonceFile is the YAML form of a nested sample capture.
type NonceFile struct {
	UID     string        `yaml:"uid"`
	Block   uint8         `yaml:"block"`
	KeyType string        `yaml:"key_type"`
	Samples []NonceRecord `yaml:"samples"`
}

// NonceRecord is one sample, hex encoded.
type NonceRecord struct {
	NT  string `yaml:"nt"`
	KS1 string `yaml:"ks1"`
}

// LoadNonceFile reads and decodes a nonce file.
func LoadNonceFile(path string) (mfclassic.NonceResponse, error) {
	var resp mfclassic.NonceResponse
	data, err := os.ReadFile(path)
	if err != nil {
		return resp, fmt.Errorf("read nonce file: %w", err)
	}

	var nf NonceFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&nf); err != nil {
		return resp, fmt.Errorf("parse nonce file: %w", err)
	}
	return nf.Response()
}

// Response converts the file form into a device response.
func (nf NonceFile) Response() (mfclassic.NonceResponse, error) {
	var resp mfclassic.NonceResponse
	uid, err := parseHex32(nf.UID)
	if err != nil {
		return resp, fmt.Errorf("uid: %w", err)
	}
	kt, err := mfclassic.ParseKeyType(nf.KeyType)
	if err != nil {
		return resp, err
	}
	if len(nf.Samples) != len(resp.Samples) {
		return resp, fmt.Errorf("need %d samples, got %d", len(resp.Samples), len(nf.Samples))
	}
	resp.UID = uid
	resp.Block = nf.Block
	resp.KeyType = kt
	for i, s := range nf.Samples {
		if resp.Samples[i].NT, err = parseHex32(s.NT); err != nil {
			return resp, fmt.Errorf("samples[%d].nt: %w", i, err)
		}
		if resp.Samples[i].KS1, err = parseHex32(s.KS1); err != nil {
			return resp, fmt.Errorf("samples[%d].ks1: %w", i, err)
		}
	}
	return resp, nil
}

// SaveNonceFile writes resp as YAML.
func SaveNonceFile(path string, resp mfclassic.NonceResponse) error {
	nf := NonceFile{
		UID:     fmt.Sprintf("%08X", resp.UID),
		Block:   resp.Block,
		KeyType: resp.KeyType.String(),
	}
	for _, s := range resp.Samples {
		nf.Samples = append(nf.Samples, NonceRecord{NT: fmt.Sprintf("%08X", s.NT), KS1: fmt.Sprintf("%08X", s.KS1)})
	}
	out, err := yaml.Marshal(&nf)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

func parseHex32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// FileDevice replays a nonce file as a nested device. It serves setups where
// the samples were captured by other hardware.
type FileDevice struct {
	Path string
}

// AcquireNonces returns the recorded samples when they belong to the requested target.
func (d *FileDevice) AcquireNonces(ctx context.Context, req mfclassic.NonceRequest) (mfclassic.NonceResponse, error) {
	if err := ctx.Err(); err != nil {
		return mfclassic.NonceResponse{}, &mfclassic.TimeoutError{Op: "nested", Cause: err}
	}
	resp, err := LoadNonceFile(d.Path)
	if err != nil {
		return resp, err
	}
	if resp.Block != req.TargetBlock || resp.KeyType != req.TargetKeyType {
		return resp, fmt.Errorf("nonce file holds block %d key %s, want block %d key %s",
			resp.Block, resp.KeyType, req.TargetBlock, req.TargetKeyType)
	}
	return resp, nil
}
