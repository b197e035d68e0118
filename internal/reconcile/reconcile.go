// Package reconcile decides which attachments a put has to transfer.
package reconcile

import (
	"github.com/starford/md2backlog/internal/models"
)

// Plan lists the attachment operations for one document.
type Plan struct {
	Delete []models.RemoteAttachment `json:"delete"`
	Upload []models.Attachment       `json:"upload"`
	Keep   []models.RemoteAttachment `json:"keep"`
}

// Unchanged reports whether the plan transfers nothing.
func (p Plan) Unchanged() bool {
	return len(p.Delete) == 0 && len(p.Upload) == 0
}

// Compute compares the attachments a converted document needs with the
// ones stored remotely. When every pending attachment matches a distinct
// remote attachment by file name and size, everything is kept. Any other
// difference replaces the whole set: all remote attachments are deleted and
// all pending ones uploaded. Size and name are the only identity the remote
// side exposes, so a partial diff would be guesswork.
func Compute(pending []models.Attachment, current []models.RemoteAttachment) Plan {
	if matches(pending, current) {
		return Plan{Keep: append([]models.RemoteAttachment(nil), current...)}
	}
	return Plan{
		Delete: append([]models.RemoteAttachment(nil), current...),
		Upload: append([]models.Attachment(nil), pending...),
	}
}

func matches(pending []models.Attachment, current []models.RemoteAttachment) bool {
	if len(pending) != len(current) {
		return false
	}
	used := make([]bool, len(current))
	for _, p := range pending {
		found := false
		for i, c := range current {
			if used[i] || c.Name != p.Name() || c.Size != p.Size {
				continue
			}
			used[i] = true
			found = true
			break
		}
		if !found {
			return false
		}
	}
	return true
}
