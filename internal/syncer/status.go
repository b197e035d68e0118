package syncer

import (
	"errors"
	"fmt"
	"path"

	"github.com/starford/md2backlog/internal/apperr"
	"github.com/starford/md2backlog/internal/checksum"
	"github.com/starford/md2backlog/internal/header"
)

// State of a local document relative to its last recorded sync.
type State string

const (
	StateNew       State = "new"
	StateSynced    State = "synced"
	StateModified  State = "modified"
	StateUntracked State = "untracked"
)

// DocumentStatus is one line of a status report.
type DocumentStatus struct {
	Path  string `json:"path"`
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
	State State  `json:"state"`
}

// Status reports the state of every local document. It needs a journal.
func (s *Session) Status() ([]DocumentStatus, error) {
	if s.journal == nil {
		return nil, errors.New("syncer: status needs a journal")
	}
	files, err := s.store.List(s.cfg.LocalDir)
	if err != nil {
		return nil, fmt.Errorf("syncer: list %s: %w", s.cfg.LocalDir, err)
	}
	indexPath := path.Join(s.cfg.LocalDir, s.cfg.IndexFile)

	out := make([]DocumentStatus, 0, len(files))
	for _, f := range files {
		if f.Path == indexPath {
			continue
		}
		raw, err := s.store.Read(f.Path)
		if err != nil {
			return nil, fmt.Errorf("syncer: read %s: %w", f.Path, err)
		}
		parsed, err := header.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("syncer: %s: %w", f.Path, err)
		}
		st := DocumentStatus{Path: f.Path, ID: parsed.Header.ID(), Title: parsed.Header.Title()}
		switch {
		case st.ID == "":
			st.State = StateNew
		default:
			rec, err := s.journal.ByPath(f.Path)
			switch {
			case errors.Is(err, apperr.ErrNotFound):
				st.State = StateUntracked
			case err != nil:
				return nil, err
			case rec.DocID == st.ID && rec.Checksum == checksum.Sum(raw):
				st.State = StateSynced
			default:
				st.State = StateModified
			}
		}
		out = append(out, st)
	}
	return out, nil
}
