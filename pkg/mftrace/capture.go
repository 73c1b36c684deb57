package mftrace

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/barnettlynn/mfkey/pkg/mfclassic"
)

// LinkType marks capture files: DLT_USER0, one direction byte followed by
// the frame bytes.
const LinkType = layers.LinkType(147)

const snapLen = 1 + MaxFrameLen + 2

// Record is one captured frame.
type Record struct {
	Time time.Time
	mfclassic.Exchange
}

// CaptureWriter writes frames into a pcap stream.
type CaptureWriter struct {
	w *pcapgo.Writer
}

// NewCaptureWriter writes the pcap file header to w.
func NewCaptureWriter(w io.Writer) (*CaptureWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, LinkType); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &CaptureWriter{w: pw}, nil
}

// Write appends one frame.
func (c *CaptureWriter) Write(r Record) error {
	data := make([]byte, 0, 1+len(r.Data))
	data = append(data, byte(r.Dir))
	data = append(data, r.Data...)
	ci := gopacket.CaptureInfo{
		Timestamp:     r.Time,
		CaptureLength: len(data),
		Length:        len(data),
	}
	return c.w.WritePacket(ci, data)
}

// CaptureReader reads frames from a pcap stream.
type CaptureReader struct {
	r *pcapgo.Reader
}

// NewCaptureReader checks the pcap header of r.
func NewCaptureReader(r io.Reader) (*CaptureReader, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}
	if pr.LinkType() != LinkType {
		return nil, fmt.Errorf("unexpected link type %d, want %d", pr.LinkType(), LinkType)
	}
	return &CaptureReader{r: pr}, nil
}

// Next returns the next frame or io.EOF.
func (c *CaptureReader) Next() (Record, error) {
	data, ci, err := c.r.ReadPacketData()
	if err != nil {
		return Record{}, err
	}
	if len(data) < 1 {
		return Record{}, fmt.Errorf("empty capture record at %s", ci.Timestamp)
	}
	dir := mfclassic.Direction(data[0])
	if dir != mfclassic.ReaderToCard && dir != mfclassic.CardToReader {
		return Record{}, fmt.Errorf("invalid direction byte 0x%02X", data[0])
	}
	return Record{
		Time:     ci.Timestamp,
		Exchange: mfclassic.Exchange{Dir: dir, Data: append([]byte(nil), data[1:]...)},
	}, nil
}

// WriteCaptureFile writes frames to path, spacing timestamps by step from start.
func WriteCaptureFile(path string, start time.Time, step time.Duration, frames []mfclassic.Exchange) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	cw, err := NewCaptureWriter(f)
	if err != nil {
		f.Close()
		return err
	}
	for i, ex := range frames {
		if err := cw.Write(Record{Time: start.Add(time.Duration(i) * step), Exchange: ex}); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// ReadCaptureFile reads every frame of path.
func ReadCaptureFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr, err := NewCaptureReader(f)
	if err != nil {
		return nil, err
	}
	var out []Record
	for {
		rec, err := cr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
