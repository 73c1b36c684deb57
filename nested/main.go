package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/term"

	"github.com/barnettlynn/mfkey/nested/internal/config"
	"github.com/barnettlynn/mfkey/pkg/mfclassic"
	"github.com/barnettlynn/mfkey/pkg/mfkey"
)

const configFileName = "config.yaml"

func main() {
	var (
		configFlag    = flag.String("config", "", "config file (default: config.yaml next to the executable)")
		dictFlag      = flag.String("dict", "", "key dictionary to sweep over all sectors (overrides config.dictionary)")
		knownBlock    = flag.Uint("known-block", 0, "block of the sector with a known key")
		knownKeyType  = flag.String("known-key-type", "A", "known key type: A or B")
		knownKeyHex   = flag.String("known-key", "", "known key, 12 hex chars; empty skips the nested attack")
		knownKeyFile  = flag.String("known-key-file", "", "read the known key from the first line of this file instead of -known-key")
		targetBlock   = flag.Uint("target-block", 4, "block of the sector to attack")
		targetKeyType = flag.String("target-key-type", "A", "target key type: A or B")
		calibrate     = flag.Bool("calibrate", false, "ask the device to recalibrate nonce distance")
		partialHex    = flag.String("partial", "", "brute force the first two bytes of this 12 hex char key")
		dumpPath      = flag.String("dump", "", "write an .eml dump of all sectors with known keys")
		verbose       = flag.Bool("v", false, "enable debug logging")
		logFormat     = flag.String("log-format", "text", "log format: text or json")
	)
	flag.Parse()

	// Configure slog
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

	// Load config
	configPath := *configFlag
	if configPath == "" {
		p, err := defaultConfigPath()
		if err != nil {
			log.Fatalf("resolve config path failed: %v", err)
		}
		configPath = p
	}
	fmt.Printf("Using config: %s\n", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *dictFlag != "" {
		cfg.Dictionary = *dictFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	b, err := openBackend(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer b.close()
	fmt.Printf("Using %s\n", b.name)
	fmt.Printf("UID: %X\n", b.uid)

	var bar *pb.ProgressBar
	engine := mfkey.NewEngine(b.dev, b.checker, mfkey.Config{
		NestedTimeout: cfg.NestedTimeout(),
		CheckTimeout:  cfg.CheckTimeout(),
		Progress: func(done, total int) {
			if bar != nil {
				bar.SetCurrent(int64(done))
			}
		},
	})

	var keys []mfclassic.SectorKeys
	failed := false

	// Dictionary sweep
	if cfg.Dictionary != "" {
		dict, err := mfclassic.LoadKeyList(cfg.Dictionary)
		if err != nil {
			log.Fatalf("dictionary invalid: %v", err)
		}
		fmt.Printf("Checking %d dictionary keys on %d sectors...\n", len(dict), mfclassic.SectorCount(b.blocks))
		keys, err = engine.CheckSectors(ctx, mfclassic.SectorCount(b.blocks), dict)
		if err != nil {
			log.Fatalf("dictionary sweep failed: %v", err)
		}
		mfclassic.PrintSectorKeys(os.Stdout, keys)
	}

	// Nested attack
	knownHex, err := knownKey(*knownKeyHex, *knownKeyFile)
	if err != nil {
		log.Fatalf("known key invalid: %v", err)
	}
	if knownHex != "" {
		req, err := nestedRequest(*knownBlock, *knownKeyType, knownHex, *targetBlock, *targetKeyType, *calibrate)
		if err != nil {
			log.Fatalf("invalid nested arguments: %v", err)
		}
		if b.dev == nil {
			log.Fatalf("backend %s cannot acquire nonces; set config.nonces_file", cfg.Oracle.Backend)
		}
		fmt.Printf("Nested attack on block %d key %s using block %d key %s...\n",
			req.TargetBlock, req.TargetKeyType, req.KnownBlock, req.KnownKeyType)

		res, err := engine.RecoverNested(ctx, req)
		code := mfkey.LegacyCode(res, err)
		if err != nil {
			fmt.Printf("Nested attack failed (code %d): %v\n", code, err)
			failed = true
		} else {
			fmt.Printf("Nested result: %s, %d candidates (code %d)\n", res.Outcome, res.Candidates, code)
			if res.Outcome == mfkey.OutcomeFound {
				fmt.Printf("Found key %s: %s\n", res.KeyType, res.Key)
				keys = mergeKey(keys, res.Block, res.KeyType, res.Key)
			} else {
				failed = true
			}
		}
	}

	// Brute force
	if *partialHex != "" {
		block, kt, partial, err := bruteTarget(*targetBlock, *targetKeyType, *partialHex)
		if err != nil {
			log.Fatalf("invalid brute force arguments: %v", err)
		}
		fmt.Printf("Brute forcing block %d key %s with suffix %s...\n", block, kt, partial.String()[4:])
		if term.IsTerminal(int(os.Stderr.Fd())) {
			bar = pb.StartNew(mfkey.BruteSpace)
		}
		key, found, err := engine.BruteForce(ctx, block, kt, partial)
		if bar != nil {
			bar.Finish()
		}
		switch {
		case err != nil:
			fmt.Printf("Brute force failed: %v\n", err)
			failed = true
		case found:
			fmt.Printf("Found key %s: %s\n", kt, key)
			keys = mergeKey(keys, block, kt, key)
		default:
			fmt.Println("Brute force exhausted without a match")
			failed = true
		}
	}

	// Dump
	if *dumpPath != "" {
		img, n := dump(ctx, b, keys)
		if img.IsEmpty() && len(b.uid) == 4 {
			img.SetManufacturerBlock(b.uid, [2]byte{0x04, 0x00}, 0x08)
		}
		if err := img.SaveFile(*dumpPath); err != nil {
			log.Fatalf("write dump failed: %v", err)
		}
		fmt.Printf("Dumped %d blocks to %s\n", n, *dumpPath)
	}

	if failed {
		os.Exit(1)
	}
}

func nestedRequest(knownBlock uint, knownType, knownHex string, targetBlock uint, targetType string, calibrate bool) (mfkey.NestedRequest, error) {
	var req mfkey.NestedRequest
	if knownBlock >= mfclassic.MaxBlocks || targetBlock >= mfclassic.MaxBlocks {
		return req, fmt.Errorf("block numbers must be 0..%d", mfclassic.MaxBlocks-1)
	}
	key, err := mfclassic.ParseKey(knownHex)
	if err != nil {
		return req, fmt.Errorf("known key: %w", err)
	}
	kkt, err := mfclassic.ParseKeyType(knownType)
	if err != nil {
		return req, err
	}
	tkt, err := mfclassic.ParseKeyType(targetType)
	if err != nil {
		return req, err
	}
	return mfkey.NestedRequest{
		KnownBlock:    uint8(knownBlock),
		KnownKeyType:  kkt,
		KnownKey:      key,
		TargetBlock:   uint8(targetBlock),
		TargetKeyType: tkt,
		Calibrate:     calibrate,
	}, nil
}

// knownKey returns the hex key given on the command line or the first key
// of path. Setting both is an error.
func knownKey(hexKey, path string) (string, error) {
	if path == "" {
		return hexKey, nil
	}
	if hexKey != "" {
		return "", fmt.Errorf("-known-key and -known-key-file are mutually exclusive")
	}
	key, err := mfclassic.LoadKeyHexFile(path)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", path, err)
	}
	return key.String(), nil
}

func bruteTarget(targetBlock uint, targetType, partialHex string) (uint8, mfclassic.KeyType, mfclassic.Key, error) {
	if targetBlock >= mfclassic.MaxBlocks {
		return 0, mfclassic.KeyA, mfclassic.Key{}, fmt.Errorf("block numbers must be 0..%d", mfclassic.MaxBlocks-1)
	}
	partial, err := mfclassic.ParseKey(partialHex)
	if err != nil {
		return 0, mfclassic.KeyA, mfclassic.Key{}, fmt.Errorf("partial key: %w", err)
	}
	kt, err := mfclassic.ParseKeyType(targetType)
	if err != nil {
		return 0, mfclassic.KeyA, mfclassic.Key{}, err
	}
	return uint8(targetBlock), kt, partial, nil
}

func defaultConfigPath() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	exeConfigPath := filepath.Join(filepath.Dir(exePath), configFileName)
	if fileExists(exeConfigPath) {
		return exeConfigPath, nil
	}

	// Fallback for `go run`, where the executable is placed in a temp directory.
	cwd, err := os.Getwd()
	if err != nil {
		return exeConfigPath, nil
	}
	cwdConfigPath := filepath.Join(cwd, configFileName)
	if fileExists(cwdConfigPath) {
		return cwdConfigPath, nil
	}
	return exeConfigPath, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
