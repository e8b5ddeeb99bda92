package events

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/sdko-org/swapi-proxy/internal/models"
)

const spoolSuffix = ".jsonl.gz"

var ErrSpoolFull = errors.New("event spool full")

// Spool keeps batches that could not be written to the store as gzip JSONL
// files on local disk until they can be replayed. Files are named so that
// lexical order is creation order.
type Spool struct {
	dir      string
	maxBytes int64

	mu  sync.Mutex
	seq atomic.Uint64
}

func NewSpool(dir string, maxBytes int64) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Spool{dir: dir, maxBytes: maxBytes}, nil
}

// Save writes one batch as a new spool file, removing the oldest files when
// the directory would exceed its byte budget.
func (s *Spool) Save(events []models.RequestEvent) error {
	if len(events) == 0 {
		return nil
	}

	data, err := encodeBatch(events)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureCapacity(int64(len(data))); err != nil {
		return err
	}

	name := fmt.Sprintf("%020d_%06d%s", time.Now().UnixNano(), s.seq.Add(1)%1000000, spoolSuffix)
	final := filepath.Join(s.dir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write spool file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit spool file: %w", err)
	}
	return nil
}

// ReplayOldest hands the oldest spooled batch to fn and deletes the file once
// fn succeeds. It returns the number of events replayed; zero with a nil
// error means the spool is empty.
func (s *Spool) ReplayOldest(fn func([]models.RequestEvent) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.files()
	if err != nil || len(files) == 0 {
		return 0, err
	}
	path := filepath.Join(s.dir, files[0])

	events, err := readBatch(path)
	if err != nil {
		// Unreadable files would block the spool forever.
		os.Remove(path)
		return 0, fmt.Errorf("read spool file %s: %w", files[0], err)
	}

	if err := fn(events); err != nil {
		return 0, err
	}
	if err := os.Remove(path); err != nil {
		return len(events), fmt.Errorf("remove replayed spool file: %w", err)
	}
	return len(events), nil
}

// Pending returns the number of spooled batch files.
func (s *Spool) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	files, _ := s.files()
	return len(files)
}

func (s *Spool) files() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list spool dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), spoolSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Spool) ensureCapacity(incoming int64) error {
	if s.maxBytes <= 0 {
		return nil
	}
	if incoming > s.maxBytes {
		return ErrSpoolFull
	}

	files, err := s.files()
	if err != nil {
		return err
	}
	sizes := make([]int64, len(files))
	var total int64
	for i, name := range files {
		if info, err := os.Stat(filepath.Join(s.dir, name)); err == nil {
			sizes[i] = info.Size()
			total += sizes[i]
		}
	}

	for i := 0; total+incoming > s.maxBytes && i < len(files); i++ {
		if err := os.Remove(filepath.Join(s.dir, files[i])); err == nil {
			total -= sizes[i]
		}
	}
	if total+incoming > s.maxBytes {
		return ErrSpoolFull
	}
	return nil
}

func encodeBatch(events []models.RequestEvent) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return nil, fmt.Errorf("encode spooled event: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compress spool batch: %w", err)
	}
	return buf.Bytes(), nil
}

func readBatch(path string) ([]models.RequestEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	var events []models.RequestEvent
	dec := json.NewDecoder(gz)
	for {
		var event models.RequestEvent
		if err := dec.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return nil, err
		}
		events = append(events, event)
	}
}
