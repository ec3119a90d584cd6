package pipeline

import (
	"cmp"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/rotisserie/eris"
)

// Default document file names inside a case directory.
const (
	DefaultResponseFile = "response.html"
	DefaultFollowupFile = "followup.html"
)

// DiscoverInputs walks dir for case directories. A directory holding either
// document is a case; its id is the directory path relative to dir in slash
// form, so "2018/000004/response.html" belongs to case "2018/000004".
func DiscoverInputs(dir, responseName, followupName string) ([]CaseInput, error) {
	if responseName == "" {
		responseName = DefaultResponseFile
	}
	if followupName == "" {
		followupName = DefaultFollowupFile
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: stat input dir")
	}
	if !info.IsDir() {
		return nil, eris.Errorf("pipeline: %s is not a directory", dir)
	}

	cases := map[string]*CaseInput{}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || (d.Name() != responseName && d.Name() != followupName) {
			return nil
		}
		rel, err := filepath.Rel(dir, filepath.Dir(path))
		if err != nil {
			return err
		}
		if rel == "." {
			// Documents at the root have no case id.
			return nil
		}
		id := filepath.ToSlash(rel)
		in := cases[id]
		if in == nil {
			in = &CaseInput{CaseID: id}
			cases[id] = in
		}
		if d.Name() == responseName {
			in.ResponsePath = path
		} else {
			in.FollowupPath = path
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: walk input dir")
	}

	out := make([]CaseInput, 0, len(cases))
	for _, in := range cases {
		out = append(out, *in)
	}
	slices.SortFunc(out, func(a, b CaseInput) int { return cmp.Compare(a.CaseID, b.CaseID) })
	return out, nil
}
