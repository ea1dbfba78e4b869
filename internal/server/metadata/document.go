// Package metadata holds a session's file list and tag set and persists it
// as an encrypted JSON document.
package metadata

import (
	"encoding/json"
	"sort"

	"github.com/dmitrijs2005/filevault/internal/common"
	"github.com/google/uuid"
)

// TagSet is a set of tag names. It is encoded as a sorted JSON array.
type TagSet map[string]struct{}

func NewTagSet(tags ...string) TagSet {
	s := make(TagSet, len(tags))
	s.Add(tags...)
	return s
}

func (s TagSet) Add(tags ...string) {
	for _, t := range tags {
		s[t] = struct{}{}
	}
}

func (s TagSet) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

func (s TagSet) Remove(tag string) bool {
	if _, ok := s[tag]; !ok {
		return false
	}
	delete(s, tag)
	return true
}

// Sorted returns the tags in lexical order, never nil.
func (s TagSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s TagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *TagSet) UnmarshalJSON(data []byte) error {
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	*s = NewTagSet(tags...)
	return nil
}

type FileEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Filetype string `json:"filetype"`
	Tags     TagSet `json:"tags"`
}

// DisplayName is the filename a download is served under.
func (f *FileEntry) DisplayName() string {
	if f.Filetype == "" {
		return f.Name
	}
	return f.Name + "." + f.Filetype
}

// FilePatch carries the fields of a partial update. Nil fields are left
// untouched.
type FilePatch struct {
	Name     *string   `json:"name,omitempty"`
	Filetype *string   `json:"filetype,omitempty"`
	Tags     *[]string `json:"tags,omitempty"`
}

// Document is the decrypted metadata of one session. Every tag referenced
// by a file is also present in Tags.
type Document struct {
	Files map[string]*FileEntry `json:"files"`
	Tags  TagSet                `json:"tags"`
}

func NewDocument() *Document {
	return &Document{
		Files: make(map[string]*FileEntry),
		Tags:  NewTagSet(),
	}
}

// normalize fills in maps a decoded document may lack.
func (d *Document) normalize() {
	if d.Files == nil {
		d.Files = make(map[string]*FileEntry)
	}
	if d.Tags == nil {
		d.Tags = NewTagSet()
	}
	for id, f := range d.Files {
		if f.Tags == nil {
			f.Tags = NewTagSet()
		}
		if f.ID == "" {
			f.ID = id
		}
		d.Tags.Add(f.Tags.Sorted()...)
	}
}

var newID = func() string {
	return uuid.NewString()
}

// AddFile inserts a new entry under a fresh id and returns the id.
func (d *Document) AddFile(name, filetype string, tags []string) string {
	id := newID()
	for d.Files[id] != nil {
		id = newID()
	}

	d.Tags.Add(tags...)
	d.Files[id] = &FileEntry{
		ID:       id,
		Name:     name,
		Filetype: filetype,
		Tags:     NewTagSet(tags...),
	}
	return id
}

// File returns the entry for id or an common.ErrInvalidFileID error.
func (d *Document) File(id string) (*FileEntry, error) {
	f, ok := d.Files[id]
	if !ok {
		return nil, common.InvalidFileID(id)
	}
	return f, nil
}

// PatchFile applies p to the entry for id. New tags join the global set.
func (d *Document) PatchFile(id string, p FilePatch) (*FileEntry, error) {
	f, err := d.File(id)
	if err != nil {
		return nil, err
	}

	if p.Name != nil {
		f.Name = *p.Name
	}
	if p.Filetype != nil {
		f.Filetype = *p.Filetype
	}
	if p.Tags != nil {
		f.Tags = NewTagSet(*p.Tags...)
		d.Tags.Add(*p.Tags...)
	}
	return f, nil
}

// DeleteFile removes the entry for id. Its tags stay in the global set.
func (d *Document) DeleteFile(id string) (*FileEntry, error) {
	f, err := d.File(id)
	if err != nil {
		return nil, err
	}
	delete(d.Files, id)
	return f, nil
}

// RenameTag replaces old with newTag in the global set and on every file
// that carries it.
func (d *Document) RenameTag(old, newTag string) error {
	if !d.Tags.Remove(old) {
		return common.InvalidTag(old)
	}
	d.Tags.Add(newTag)

	for _, f := range d.Files {
		if f.Tags.Remove(old) {
			f.Tags.Add(newTag)
		}
	}
	return nil
}

// DeleteTag removes tag from the global set and from every file.
func (d *Document) DeleteTag(tag string) error {
	if !d.Tags.Remove(tag) {
		return common.InvalidTag(tag)
	}
	for _, f := range d.Files {
		f.Tags.Remove(tag)
	}
	return nil
}
