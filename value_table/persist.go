package value_table

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"conquest/game_state"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

const imageVersion = 1

// imageHeader is written as a JSON line ahead of the gob body, so a table file can be
// identified with zstdcat | head -1.
type imageHeader struct {
	Version int       `json:"version"`
	States  int       `json:"states"`
	SavedAt time.Time `json:"saved_at"`
}

// image is the durable form of a table. Entries keep first-seen order.
type image struct {
	Entries []imageEntry
}

type imageEntry struct {
	State   StateKey
	Actions map[game_state.ActionKey]float64
}

// ErrBadImage is returned when a table file exists but cannot be decoded.
var ErrBadImage = errors.New("value table image unreadable")

// Load replaces the in-memory table with the image on disk. A missing file is a
// fresh start and not an error. An unreadable file leaves the table empty and
// returns the decode error for the caller to log; it never aborts the process.
func (t *Table) Load() error {
	img, err := readImageShared(t.path)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.values = map[StateKey]map[game_state.ActionKey]float64{}
	t.order = nil
	t.dirty = false

	if errors.Is(err, fs.ErrNotExist) {
		log.Info().Str("path", t.path).Msg("no saved value table, starting fresh")
		return nil
	}
	if err != nil {
		return err
	}

	t.mergeLocked(img)
	t.dirty = false
	log.Info().Str("path", t.path).Int("states", len(t.values)).Msg("value table loaded")
	return nil
}

// Save persists the table. Under an exclusive advisory lock it re-reads the image on
// disk, max-merges it into memory so no other process's progress is lost, and writes
// the merged result through a temp file and rename. On failure the in-memory table
// is kept as-is for the next attempt. Only an image that fails to decode is
// overwritten; one that cannot be read at all fails the save. Saving an empty, clean
// table does nothing.
func (t *Table) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.values) == 0 && !t.dirty {
		return nil
	}

	unlock, err := lockFile(t.path, true)
	if err != nil {
		return fmt.Errorf("lock %s: %w", t.path, err)
	}
	defer unlock()

	img, err := readImage(t.path)
	switch {
	case err == nil:
		t.mergeLocked(img)
	case errors.Is(err, fs.ErrNotExist):
	case errors.Is(err, ErrBadImage):
		// A corrupt image is replaced by ours.
		log.Warn().Err(err).Str("path", t.path).Msg("replacing undecodable table image")
	default:
		// The file may be fine; it is only unreachable right now.
		return fmt.Errorf("read %s: %w", t.path, err)
	}

	if err := writeImage(t.path, t.imageLocked()); err != nil {
		return fmt.Errorf("save %s: %w", t.path, err)
	}
	t.dirty = false
	log.Info().Str("path", t.path).Int("states", len(t.values)).Msg("value table saved")
	return nil
}

// mergeLocked folds img into memory keeping the larger value per (state, action).
// Pairs only present on one side keep that side's value.
func (t *Table) mergeLocked(img *image) {
	for _, entry := range img.Entries {
		actions := t.actionsLocked(entry.State)
		for a, v := range entry.Actions {
			if cur, ok := actions[a]; !ok || v > cur {
				actions[a] = v
			}
		}
	}
}

func (t *Table) imageLocked() *image {
	img := &image{Entries: make([]imageEntry, 0, len(t.order))}
	for _, state := range t.order {
		img.Entries = append(img.Entries, imageEntry{
			State:   state,
			Actions: t.values[state],
		})
	}
	return img
}

// readImageShared reads the image under a shared lock. The lock is released before
// returning so Load never holds it while waiting on the table mutex; Save takes the
// two in the opposite order.
func readImageShared(path string) (*image, error) {
	unlock, err := lockFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	defer unlock()
	return readImage(path)
}

func readImage(path string) (*image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src := &sourceReader{r: f}
	// Decode errors are ErrBadImage, unless reading the file itself failed.
	bad := func(what string, err error) error {
		if src.err != nil {
			return src.err
		}
		return fmt.Errorf("%w: %s: %v", ErrBadImage, what, err)
	}

	// Synchronous decoding, so src is only read on this goroutine.
	dec, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, bad("zstd", err)
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, bad("header", err)
	}
	var hdr imageHeader
	if err := json.Unmarshal(line, &hdr); err != nil {
		return nil, bad("header", err)
	}
	if hdr.Version != imageVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadImage, hdr.Version)
	}

	img := &image{}
	if err := gob.NewDecoder(br).Decode(img); err != nil {
		return nil, bad("gob decode", err)
	}
	return img, nil
}

// sourceReader remembers the first error from r other than io.EOF.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF && s.err == nil {
		s.err = err
	}
	return n, err
}

// writeImage writes img next to path and renames it into place, so readers only ever
// see a complete image.
func writeImage(path string, img *image) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(imageHeader{
		Version: imageVersion,
		States:  len(img.Entries),
		SavedAt: time.Now().UTC(),
	})
	if _, err = bw.Write(append(hb, '\n')); err != nil {
		return err
	}
	if err = gob.NewEncoder(bw).Encode(img); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = enc.Close(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
