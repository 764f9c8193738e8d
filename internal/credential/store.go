package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Store owns the credentials file. All writes funnel through a single
// goroutine so concurrent save requests never interleave on disk.
type Store struct {
	path string

	mu      sync.Mutex
	writeCh chan writeRequest
	done    chan struct{}
	once    sync.Once
}

type writeRequest struct {
	records []Record
	result  chan error
}

// NewStore creates a store bound to path and starts its writer
// goroutine.
func NewStore(path string) *Store {
	s := &Store{
		path:    path,
		writeCh: make(chan writeRequest, 16),
		done:    make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// Close stops the writer goroutine after draining pending writes.
func (s *Store) Close() {
	s.once.Do(func() { close(s.writeCh) })
	<-s.done
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads the credentials file. A missing or unparseable file yields
// an empty set with a warning rather than an error; the proxy still
// starts and reports no credentials per request. Records missing a
// project_id get one assigned and the assignment is persisted.
func (s *Store) Load() ([]*Credential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", s.path).Warn("credentials file not found, starting with no credentials")
			return nil, nil
		}
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		log.WithField("path", s.path).WithError(err).Warn("credentials file unparseable, starting with no credentials")
		return nil, nil
	}

	creds := make([]*Credential, 0, len(records))
	assigned := false
	for i := range records {
		if records[i].RefreshToken == "" {
			log.WithField("index", i).Warn("skipping credential record without refresh_token")
			continue
		}
		if records[i].ProjectID == "" {
			records[i].ProjectID = NewProjectID()
			assigned = true
		}
		creds = append(creds, &Credential{
			Record:    records[i],
			SessionID: NewSessionID(),
		})
	}

	if assigned {
		if err := s.SaveAll(creds); err != nil {
			log.WithError(err).Warn("failed to persist assigned project ids")
		}
	}

	log.WithField("count", len(creds)).Info("credentials loaded")
	return creds, nil
}

// SaveAll persists the records of creds, overlaying them onto the
// current file contents keyed by refresh_token so records added to the
// file by other tools survive. Runtime-only fields never reach disk.
func (s *Store) SaveAll(creds []*Credential) error {
	records := make([]Record, len(creds))
	for i, c := range creds {
		records[i] = c.Record
	}

	req := writeRequest{records: records, result: make(chan error, 1)}
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return fmt.Errorf("credential store closed")
	default:
	}
	s.writeCh <- req
	s.mu.Unlock()
	return <-req.result
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for req := range s.writeCh {
		req.result <- s.write(req.records)
	}
}

func (s *Store) write(records []Record) error {
	merged := s.overlayOnDisk(records)

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".accounts-*.json")
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp credentials file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace credentials file: %w", err)
	}
	return nil
}

// overlayOnDisk merges the in-memory records over whatever is currently
// in the file, keyed by refresh_token. Disk-only records keep their
// position at the end.
func (s *Store) overlayOnDisk(records []Record) []Record {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return records
	}
	var onDisk []Record
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return records
	}

	known := make(map[string]struct{}, len(records))
	for _, r := range records {
		known[r.RefreshToken] = struct{}{}
	}

	merged := append([]Record(nil), records...)
	for _, d := range onDisk {
		if d.RefreshToken == "" {
			continue
		}
		if _, ok := known[d.RefreshToken]; !ok {
			merged = append(merged, d)
		}
	}
	return merged
}
