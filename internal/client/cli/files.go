package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dmitrijs2005/filevault/internal/client/models"
	"github.com/dmitrijs2005/filevault/internal/filex"
)

func usage(s string) error {
	return fmt.Errorf("usage: %s", s)
}

// Init creates the file store of the current session.
func (a *App) Init(ctx context.Context) error {
	if err := a.api.InitStore(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "File store created")
	return nil
}

// splitFilename separates the extension the server stores as the filetype.
func splitFilename(base string) (name, filetype string) {
	ext := filepath.Ext(base)
	if ext == "" || ext == base {
		return base, ""
	}
	return strings.TrimSuffix(base, ext), ext[1:]
}

// Put uploads a local file: put <path> [tag,...].
func (a *App) Put(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("put <path> [tags...]")
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", args[0])
	}

	u := models.Upload{Size: info.Size(), Tags: splitTags(args[1:])}
	u.Name, u.Filetype = splitFilename(filepath.Base(args[0]))

	id, err := a.api.UploadFile(ctx, f, u)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Uploaded %s as %s\n", filepath.Base(args[0]), id)
	return nil
}

// Get downloads a file: get <id> [destination]. Without a destination the
// file is saved under its stored name in the working directory; a directory
// destination keeps the stored name.
func (a *App) Get(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("get <id> [destination]")
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.DownloadTimeout)
	defer cancel()

	d, err := a.api.Download(ctx, args[0])
	if err != nil {
		return err
	}

	dest := filepath.Base(d.Filename)
	if len(args) > 1 {
		dest = args[1]
		if info, err := os.Stat(dest); err == nil && info.IsDir() {
			dest = filepath.Join(dest, filepath.Base(d.Filename))
		}
	}

	err = filex.WriteAtomic(dest, func(w io.Writer) error {
		_, err := w.Write(d.Data)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved %s (%d bytes)\n", dest, len(d.Data))
	return nil
}

// List prints the files of the store.
func (a *App) List(ctx context.Context) error {
	files, err := a.api.ListFiles(ctx)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(a.out, "No files")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTAGS")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.ID, f.DisplayName(), strings.Join(f.Tags, ","))
	}
	return tw.Flush()
}

// Remove deletes a file: rm <id>.
func (a *App) Remove(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("rm <id>")
	}
	if err := a.api.DeleteFile(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s\n", args[0])
	return nil
}

// Tags prints the store's tags.
func (a *App) Tags(ctx context.Context) error {
	tags, err := a.api.ListTags(ctx)
	if err != nil {
		return err
	}
	for _, t := range tags {
		fmt.Fprintln(a.out, t)
	}
	return nil
}
