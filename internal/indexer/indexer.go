// Package indexer orders the numbered files of a series folder and picks the
// one a cursor points at.
package indexer

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/baller70/tbfcontentmachineapp-sub003/internal/domain"
)

// Lister is the slice of the storage provider the indexer needs.
type Lister interface {
	ListFolder(ctx context.Context, path string) ([]domain.FolderEntry, error)
}

// Names qualify with one or more leading digits followed by a hyphen.
var numberedName = regexp.MustCompile(`^(\d+)-`)

// ListNumbered fetches the folder and returns its numbered files sorted
// ascending by numeric index. Entries without a parseable prefix are
// excluded. Provider failures propagate unchanged.
func ListNumbered(ctx context.Context, lister Lister, folder string) ([]domain.NumberedFile, error) {
	entries, err := lister.ListFolder(ctx, folder)
	if err != nil {
		return nil, err
	}

	files := make([]domain.NumberedFile, 0, len(entries))
	for _, e := range entries {
		m := numberedName.FindStringSubmatch(e.Name)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		files = append(files, domain.NumberedFile{Index: idx, Name: e.Name, ContentType: e.ContentType})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Index < files[j].Index })
	return files, nil
}

// Selection is the file a processing cycle should post next.
type Selection struct {
	File     domain.NumberedFile
	WillLoop bool
}

// NoMoreFilesError is the terminal condition for a non-looping series: the
// cursor points past every numbered file. It carries the available indices
// so callers can report what the folder actually holds.
type NoMoreFilesError struct {
	Cursor    int
	Available []int
}

func (e *NoMoreFilesError) Error() string {
	return fmt.Sprintf("no file with index %d; available indices %v", e.Cursor, e.Available)
}

// SelectNext returns the file matching cursor, or the lowest-indexed file
// with WillLoop set when looping is enabled, or *NoMoreFilesError otherwise.
func SelectNext(files []domain.NumberedFile, cursor int, loopEnabled bool) (Selection, error) {
	for _, f := range files {
		if f.Index == cursor {
			return Selection{File: f}, nil
		}
	}

	if loopEnabled && len(files) > 0 {
		first := files[0]
		for _, f := range files[1:] {
			if f.Index < first.Index {
				first = f
			}
		}
		return Selection{File: first, WillLoop: true}, nil
	}

	available := make([]int, len(files))
	for i, f := range files {
		available[i] = f.Index
	}
	return Selection{}, &NoMoreFilesError{Cursor: cursor, Available: available}
}
