// Package models defines the file records the client exchanges with the server.
package models

// File is one entry of a remote file store.
type File struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Filetype string   `json:"filetype"`
	Tags     []string `json:"tags"`
}

// DisplayName is the name the file is saved under locally.
func (f *File) DisplayName() string {
	if f.Filetype == "" {
		return f.Name
	}
	return f.Name + "." + f.Filetype
}

// Upload describes a file about to be sent.
type Upload struct {
	Name     string
	Filetype string
	Tags     []string
	// Size of the content in bytes; the server rejects the upload when the
	// received byte count differs.
	Size int64
}

// Download is decrypted file content returned by the server.
type Download struct {
	Filename string
	Data     []byte
}
