package mftrace

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/barnettlynn/mfkey/pkg/mfclassic"
)

// Session tracks the card currently seen by a sniffer. Each Open starts a new
// card; with autosave the card image lives in <dir>/<UID>.eml and is written
// back after every change.
type Session struct {
	dir      string
	autosave bool

	id   uuid.UUID
	path string
	dec  *Decoder
	log  *slog.Logger
}

// NewSession creates a session storing images in dir.
func NewSession(dir string, autosave bool) *Session {
	return &Session{dir: dir, autosave: autosave, log: slog.Default()}
}

// ID returns the identifier of the current card session.
func (s *Session) ID() uuid.UUID { return s.id }

// Decoder returns the decoder of the current card, nil before Open.
func (s *Session) Decoder() *Decoder { return s.dec }

// Path returns the image file of the current card, empty without autosave.
func (s *Session) Path() string { return s.path }

// Open switches to a new card. The previous card image is saved first. With
// autosave an existing image of the new card is loaded.
func (s *Session) Open(uid []byte, atqa [2]byte, sak byte) error {
	if err := s.Save(); err != nil {
		return err
	}

	img := mfclassic.NewImage(mfclassic.Blocks1K)
	path := ""
	if s.autosave {
		path = mfclassic.ImagePath(s.dir, uid)
		err := img.LoadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	s.id = uuid.New()
	s.path = path
	s.log = slog.Default().With("session", s.id.String(), "uid", strings.ToUpper(hex.EncodeToString(uid)))
	s.dec = NewDecoder(img, uid, atqa, sak)
	s.dec.SetLogger(s.log)
	s.log.Info("trace session opened", "image", path)
	return nil
}

// Feed decodes one frame of the current card.
func (s *Session) Feed(frame []byte) (Frame, error) {
	if s.dec == nil {
		return Frame{}, errors.New("no card session open")
	}
	f, err := s.dec.Decode(frame)
	if f.Updated && s.autosave {
		if serr := s.Save(); serr != nil {
			return f, fmt.Errorf("autosave: %w", serr)
		}
	}
	return f, err
}

// FeedExchange decodes one captured exchange. A SELECT from the reader
// restarts decoding for the same card. reselected reports that case.
func (s *Session) FeedExchange(ex mfclassic.Exchange) (f Frame, reselected bool, err error) {
	if s.dec == nil {
		return Frame{}, false, errors.New("no card session open")
	}
	if ex.Dir == mfclassic.ReaderToCard && IsSelect(ex.Data) {
		s.dec.Reset()
		s.log.Debug("card reselected")
		return Frame{Data: ex.Data, State: StateIdle}, true, nil
	}
	f, err = s.Feed(ex.Data)
	return f, false, err
}

// Save writes the current image. It does nothing without autosave or while
// the image is still empty.
func (s *Session) Save() error {
	if s.dec == nil || s.path == "" || s.dec.Image().IsEmpty() {
		return nil
	}
	if err := s.dec.Image().SaveFile(s.path); err != nil {
		return fmt.Errorf("save %s: %w", s.path, err)
	}
	return nil
}

// Close saves the current image.
func (s *Session) Close() error {
	return s.Save()
}

// IsSelect reports whether frame is an ISO 14443-3 SELECT of any cascade level.
func IsSelect(frame []byte) bool {
	if len(frame) != 9 || frame[1] != 0x70 {
		return false
	}
	switch frame[0] {
	case 0x93, 0x95, 0x97:
		return mfclassic.CheckCRCA(frame)
	}
	return false
}
