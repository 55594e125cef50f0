package attachments

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

// downloadChunkSize is the streaming buffer for large-file downloads.
const downloadChunkSize = 1 << 20

// Downloader fetches attachment content over HTTP into the store. Large
// files stream through a .partial file that survives restarts, so an
// interrupted download resumes from its last byte.
type Downloader struct {
	log    *slog.Logger
	store  *Store
	client *http.Client
}

// NewDownloader wires a downloader onto the store. A nil client uses the
// default.
func NewDownloader(log *slog.Logger, store *Store, client *http.Client) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{log: log, store: store, client: client}
}

// Download fetches info.URL into the store and fills in FilePath and Size.
func (d *Downloader) Download(ctx context.Context, info *models.AttachmentInfo) error {
	if info.URL == "" {
		return platform.ErrInvalidRequest("attachment without a source url", nil)
	}
	if info.Size > 0 {
		if err := d.store.Admit(info.Size); err != nil {
			return err
		}
	}
	if info.AttachmentType == "" {
		info.AttachmentType = models.AttachmentTypeForFilename(info.Filename)
	}
	if err := os.MkdirAll(d.store.Dir(info), 0o755); err != nil {
		return platform.ErrIO("creating attachment directory", err)
	}

	if info.Size > 0 && info.Size <= d.store.LargeFileThreshold() {
		return d.downloadSmall(ctx, info)
	}
	return d.downloadLarge(ctx, info)
}

func (d *Downloader) downloadSmall(ctx context.Context, info *models.AttachmentInfo) error {
	resp, err := d.get(ctx, info.URL, 0)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(io.LimitReader(resp.Body, d.store.MaxFileSize()+1))
	if err != nil {
		return platform.ErrTransient("reading attachment body", err)
	}
	return d.store.Put(info, content)
}

// downloadLarge appends to <blob>.partial in 1 MiB chunks, resuming from the
// partial file's size, and renames into place once complete.
func (d *Downloader) downloadLarge(ctx context.Context, info *models.AttachmentInfo) error {
	final := d.store.BlobPath(info)
	partial := final + ".partial"

	var offset int64
	if st, err := os.Stat(partial); err == nil {
		offset = st.Size()
		d.log.Debug("resuming attachment download",
			"attachment_id", info.AttachmentID, "offset", offset)
	}

	resp, err := d.get(ctx, info.URL, offset)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if offset > 0 && resp.StatusCode != http.StatusPartialContent {
		// Upstream ignored the range request; start over.
		offset = 0
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if offset == 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	out, err := os.OpenFile(partial, flags, 0o644)
	if err != nil {
		return platform.ErrIO("opening partial file", err)
	}

	written := offset
	buf := make([]byte, downloadChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			out.Close()
			return err
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > d.store.MaxFileSize() {
				out.Close()
				os.Remove(partial)
				return platform.ErrInvalidRequest(
					fmt.Sprintf("attachment exceeds the %d byte limit", d.store.MaxFileSize()), nil)
			}
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				return platform.ErrIO("writing partial file", werr)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			return platform.ErrTransient("streaming attachment body", readErr)
		}
	}
	if err := out.Close(); err != nil {
		return platform.ErrIO("closing partial file", err)
	}
	if err := os.Rename(partial, final); err != nil {
		return platform.ErrIO("finalizing attachment blob", err)
	}

	info.FilePath = final
	info.Size = written
	return d.store.WriteSidecar(info)
}

func (d *Downloader) get(ctx context.Context, url string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, platform.ErrInvalidRequest("building attachment request", err)
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, platform.ErrTransient("fetching attachment", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, platform.ErrNotFound("attachment url returned 404", nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, platform.ErrRateLimited("attachment url returned 429", nil)
	case resp.StatusCode >= 400:
		resp.Body.Close()
		return nil, platform.ErrTransient(fmt.Sprintf("attachment url returned %d", resp.StatusCode), nil)
	}
	return resp, nil
}
