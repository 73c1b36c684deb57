package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/barnettlynn/mfkey/pkg/mfclassic"
	"github.com/barnettlynn/mfkey/pkg/mftrace"
)

func main() {
	var (
		inPath    = flag.String("in", "", "pcap capture to decode (required)")
		uidHex    = flag.String("uid", "", "card UID, 8, 14 or 20 hex chars (required)")
		atqaHex   = flag.String("atqa", "0400", "card ATQA, 4 hex chars")
		sak       = flag.Uint("sak", 0x08, "card SAK")
		dir       = flag.String("dir", ".", "directory for <UID>.eml images")
		autosave  = flag.Bool("autosave", true, "load and save the card image after every change")
		showImage = flag.Bool("print", false, "print the card image after decoding")
		verbose   = flag.Bool("v", false, "Enable debug logging")
		logFormat = flag.String("log-format", "text", "Log format: text or json")
	)
	flag.Parse()

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

	if *inPath == "" || *uidHex == "" {
		fmt.Fprintf(os.Stderr, "Error: -in and -uid are required\n")
		flag.Usage()
		os.Exit(1)
	}
	uid, err := hex.DecodeString(*uidHex)
	if err != nil || (len(uid) != 4 && len(uid) != 7 && len(uid) != 10) {
		fmt.Fprintf(os.Stderr, "Error: UID must be 4, 7 or 10 hex bytes, got %q\n", *uidHex)
		os.Exit(1)
	}
	atqaBytes, err := hex.DecodeString(*atqaHex)
	if err != nil || len(atqaBytes) != 2 {
		fmt.Fprintf(os.Stderr, "Error: ATQA must be 4 hex chars, got %q\n", *atqaHex)
		os.Exit(1)
	}
	if *sak > 0xFF {
		fmt.Fprintf(os.Stderr, "Error: SAK must be <= 0xFF, got %d\n", *sak)
		os.Exit(1)
	}

	records, err := mftrace.ReadCaptureFile(*inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading capture: %v\n", err)
		os.Exit(1)
	}
	slog.Debug("capture loaded", "path", *inPath, "frames", len(records))

	session := mftrace.NewSession(*dir, *autosave)
	if err := session.Open(uid, [2]byte(atqaBytes), byte(*sak)); err != nil {
		fmt.Fprintf(os.Stderr, "Error opening session: %v\n", err)
		os.Exit(1)
	}

	keys := 0
	for _, rec := range records {
		f, reselected, err := session.FeedExchange(rec.Exchange)
		if reselected {
			fmt.Printf("%s %s  SELECT\n", rec.Time.Format("15:04:05.000000"), rec.Dir)
			continue
		}
		if errors.Is(err, mftrace.ErrHalted) {
			continue
		}
		printFrame(rec, f)
		if err != nil {
			var fe *mftrace.FrameError
			if !errors.As(err, &fe) {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			slog.Warn("decoder stopped", "error", err)
			continue
		}
		if f.KeyFound {
			keys++
			fmt.Printf("  key %s of sector %d: %s\n", f.KeyType, mfclassic.SectorOf(f.Block), f.Key)
		}
	}

	if err := session.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving image: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Frames: %d\n", len(records))
	fmt.Printf("Keys:   %d\n", keys)
	if *autosave {
		fmt.Printf("Image:  %s\n", session.Path())
	}
	if *showImage {
		mfclassic.PrintImage(os.Stdout, session.Decoder().Image())
	}
}

func printFrame(rec mftrace.Record, f mftrace.Frame) {
	mark := " "
	if f.Decrypted {
		mark = "*"
	}
	fmt.Printf("%s %s %s %-40s %s\n",
		rec.Time.Format("15:04:05.000000"), rec.Dir, mark,
		strings.ToUpper(hex.EncodeToString(f.Data)), f.State)
}
