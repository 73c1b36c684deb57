package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/barnettlynn/mfkey/pkg/mfclassic"
	"github.com/barnettlynn/mfkey/pkg/mfkey"
	"github.com/barnettlynn/mfkey/pkg/mftrace"
)

func main() {
	var (
		uidHex     = flag.String("uid", "DEADBEEF", "card UID, 8, 14 or 20 hex chars")
		sector     = flag.Int("sector", 1, "sector whose keys are set and traced")
		keyAHex    = flag.String("key-a", "4A6352684677", "key A of -sector")
		keyBHex    = flag.String("key-b", "FFFFFFFFFFFF", "key B of -sector")
		keyType    = flag.String("key-type", "A", "key used by the traced reader session")
		seed       = flag.Uint("seed", 0x1234, "card PRNG seed")
		tracePath  = flag.String("trace", "", "write a pcap trace of a reader session to this path")
		writeHex   = flag.String("write", "", "32 hex chars written to the first block of -sector in the trace")
		noncesPath = flag.String("nonces", "", "write nested samples (known key FFFFFFFFFFFF in sector 0) to this path")
		verbose    = flag.Bool("v", false, "Enable debug logging")
		logFormat  = flag.String("log-format", "text", "Log format: text or json")
	)
	flag.Parse()

	// Setup logging
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	// Validate flags
	if *tracePath == "" && *noncesPath == "" {
		fmt.Fprintf(os.Stderr, "Error: nothing to do, set -trace and/or -nonces\n")
		flag.Usage()
		os.Exit(1)
	}
	uid, err := hex.DecodeString(*uidHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding UID: %v\n", err)
		os.Exit(1)
	}
	if *sector < 1 || *sector >= mfclassic.SectorCount(mfclassic.Blocks1K) {
		fmt.Fprintf(os.Stderr, "Error: sector must be 1..%d, got %d\n", mfclassic.SectorCount(mfclassic.Blocks1K)-1, *sector)
		os.Exit(1)
	}
	keyA, err := mfclassic.ParseKey(*keyAHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing key A: %v\n", err)
		os.Exit(1)
	}
	keyB, err := mfclassic.ParseKey(*keyBHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing key B: %v\n", err)
		os.Exit(1)
	}
	kt, err := mfclassic.ParseKeyType(*keyType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Build card
	emu, err := mfclassic.NewEmulator(uid, mfclassic.Blocks1K, uint32(*seed))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating card: %v\n", err)
		os.Exit(1)
	}
	if err := emu.SetSectorKeys(*sector, keyA, keyB); err != nil {
		fmt.Fprintf(os.Stderr, "Error setting keys: %v\n", err)
		os.Exit(1)
	}
	slog.Debug("card ready", "uid", fmt.Sprintf("%X", uid), "sector", *sector, "key_a", keyA.String(), "key_b", keyB.String())

	fmt.Printf("UID:    %X\n", uid)
	fmt.Printf("ATQA:   %X\n", emu.ATQA())
	fmt.Printf("SAK:    %02X\n", emu.SAK())

	if *tracePath != "" {
		frames, err := traceSession(emu, uint8(*sector), kt, *writeHex)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error recording session: %v\n", err)
			os.Exit(1)
		}
		if err := mftrace.WriteCaptureFile(*tracePath, time.Now(), 500*time.Microsecond, frames); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing trace: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Trace:  %s (%d frames)\n", *tracePath, len(frames))
	}

	if *noncesPath != "" {
		resp, err := emu.AcquireNonces(context.Background(), mfclassic.NonceRequest{
			KnownBlock:    0,
			KnownKeyType:  mfclassic.KeyA,
			KnownKey:      mfclassic.KeyFromUint64(0xFFFFFFFFFFFF),
			TargetBlock:   mfclassic.FirstBlock(*sector),
			TargetKeyType: kt,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error acquiring nonces: %v\n", err)
			os.Exit(1)
		}
		if err := mfkey.SaveNonceFile(*noncesPath, resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing nonces: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Nonces: %s\n", *noncesPath)
	}
}

// traceSession records a reader that selects the card, authenticates to
// sector, reads all of its blocks, optionally writes the first one and halts.
func traceSession(emu *mfclassic.Emulator, sector uint8, kt mfclassic.KeyType, writeHex string) ([]mfclassic.Exchange, error) {
	first := mfclassic.FirstBlock(int(sector))
	rec := emu.Record()
	rec.Select()
	if err := rec.Auth(first, kt, uint32(time.Now().UnixNano())); err != nil {
		return nil, err
	}
	for i := 0; i < mfclassic.BlocksInSector(int(sector)); i++ {
		if err := rec.Read(first + uint8(i)); err != nil {
			return nil, err
		}
	}
	if writeHex != "" {
		raw, err := hex.DecodeString(writeHex)
		if err != nil || len(raw) != mfclassic.BlockSize {
			return nil, fmt.Errorf("write data must be %d hex chars", 2*mfclassic.BlockSize)
		}
		if err := rec.Write(first, [mfclassic.BlockSize]byte(raw)); err != nil {
			return nil, err
		}
	}
	rec.Halt()
	return rec.Frames(), nil
}
