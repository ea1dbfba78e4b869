// Package layout maps sessions and files to their on-disk locations:
//
//	{base}/{session}/metadata                     encrypted metadata document
//	{base}/{session}/{file_id}                    encrypted content (fs blob backend)
//	{base}/{session}/{upload_id}.upload           staging blob of a chunked upload
//	{base}/{session}/decrypted/{file_id}.{type}   decrypted cache
package layout

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dmitrijs2005/filevault/internal/common"
)

var validNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

var validFiletypePattern = regexp.MustCompile(`^[a-zA-Z0-9]{0,32}$`)

const (
	metadataFile = "metadata"
	decryptedDir = "decrypted"
	uploadSuffix = ".upload"
)

// ValidName reports whether s can be used as a session name, file id or
// upload id without escaping the base directory.
func ValidName(s string) bool {
	return validNamePattern.MatchString(s)
}

// ValidFiletype reports whether s is usable as a file extension.
func ValidFiletype(s string) bool {
	return validFiletypePattern.MatchString(s)
}

// CheckSessionName returns common.ErrMissingSessionName for "" and
// common.ErrInvalidRequest for names that cannot be used as a directory.
func CheckSessionName(name string) error {
	if name == "" {
		return common.ErrMissingSessionName
	}
	if !ValidName(name) {
		return fmt.Errorf("%w: bad session name %q", common.ErrInvalidRequest, name)
	}
	return nil
}

type Layout struct {
	Base string
}

func New(base string) Layout {
	return Layout{Base: base}
}

func (l Layout) SessionDir(session string) string {
	return filepath.Join(l.Base, session)
}

func (l Layout) MetadataPath(session string) string {
	return filepath.Join(l.Base, session, metadataFile)
}

// ContentKey is the blob store key of a file's encrypted content.
func (l Layout) ContentKey(session, fileID string) string {
	return session + "/" + fileID
}

func (l Layout) StagingPath(session, uploadID string) string {
	return filepath.Join(l.Base, session, uploadID+uploadSuffix)
}

// StagingUploadID extracts the upload id from a StagingPath.
func (l Layout) StagingUploadID(path string) (string, bool) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, uploadSuffix) {
		return "", false
	}
	return strings.TrimSuffix(name, uploadSuffix), true
}

// StagingGlob matches every StagingPath of session.
func (l Layout) StagingGlob(session string) string {
	return filepath.Join(l.Base, session, "*"+uploadSuffix)
}

func (l Layout) DecryptedDir(session string) string {
	return filepath.Join(l.Base, session, decryptedDir)
}

// DecryptedPath is the cache location of a decrypted file. An empty
// filetype yields a path without extension.
func (l Layout) DecryptedPath(session, fileID, filetype string) string {
	name := fileID
	if filetype != "" {
		name += "." + filetype
	}
	return filepath.Join(l.Base, session, decryptedDir, name)
}
