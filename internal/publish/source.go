// Package publish resolves which file version each terminal is expected to
// run, from publish records scoped to a merchant, a line or one terminal.
package publish

import (
	"context"

	"github.com/alfianX/crossgate-gw/internal/repo"
)

// Target identifies the terminal a lookup is made for.
type Target struct {
	MerchantID string
	LineNO     string
	TerminalID string
}

// Expectation is one published file version.
type Expectation struct {
	PublishID   int64
	Code        string
	Version     string
	Crc         string
	Size        int
	Path        string
	PublishType int
}

// Source is the read-only view of the file-publish subsystem.
type Source interface {
	// Expected returns the effective expectation per content type for t.
	Expected(ctx context.Context, t Target) (map[string]Expectation, error)
	// Lookup finds the file published as code/version for a merchant.
	Lookup(ctx context.Context, merchantID, code, version string) (*Expectation, bool, error)
}

// ExpectedVersion resolves a single content type.
func ExpectedVersion(ctx context.Context, src Source, t Target, code string) (Expectation, bool, error) {
	all, err := src.Expected(ctx, t)
	if err != nil {
		return Expectation{}, false, err
	}
	e, ok := all[code]
	return e, ok, nil
}

// Applies reports whether a publish record of the given scope reaches t.
func Applies(publishType int, publishTarget string, t Target) bool {
	switch publishType {
	case repo.PublishTypeMerchant:
		return true
	case repo.PublishTypeLine:
		return publishTarget != "" && publishTarget == t.LineNO
	case repo.PublishTypeTerminal:
		return publishTarget != "" && publishTarget == t.TerminalID
	}
	return false
}

func fromRecord(r repo.FilePublish) Expectation {
	return Expectation{
		PublishID:   r.ID,
		Code:        r.FileTypeID,
		Version:     r.FileVer,
		Crc:         r.Crc,
		Size:        r.FileSize,
		Path:        r.FilePath,
		PublishType: r.PublishType,
	}
}

// resolve picks, per code, the most specific scope reaching t. Within one
// scope the newest record wins. rows must belong to t.MerchantID.
func resolve(rows []repo.FilePublish, t Target) map[string]Expectation {
	out := make(map[string]Expectation)
	for _, r := range rows {
		if !Applies(r.PublishType, r.PublishTarget, t) {
			continue
		}
		cur, ok := out[r.FileTypeID]
		if ok && (cur.PublishType > r.PublishType || (cur.PublishType == r.PublishType && cur.PublishID > r.ID)) {
			continue
		}
		out[r.FileTypeID] = fromRecord(r)
	}
	return out
}

func lookup(rows []repo.FilePublish, code, version string) (*Expectation, bool) {
	var found *Expectation
	for _, r := range rows {
		if r.FileTypeID != code || r.FileVer != version {
			continue
		}
		if found == nil || r.ID > found.PublishID {
			e := fromRecord(r)
			found = &e
		}
	}
	return found, found != nil
}
