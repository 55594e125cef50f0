package attachments

import (
	"io"
	"os"

	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

// uploadChunkSize matches the Telegram bot API's preferred upload chunk.
const uploadChunkSize = 512 << 10

// chunkedReader feeds the underlying file to the HTTP client in fixed-size
// chunks so a slow upstream never holds a large buffer.
type chunkedReader struct {
	src io.ReadCloser
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(p) > uploadChunkSize {
		p = p[:uploadChunkSize]
	}
	return r.src.Read(p)
}

func (r *chunkedReader) Close() error {
	return r.src.Close()
}

// OpenForUpload returns a chunked reader over the attachment blob together
// with its size. The caller closes the reader.
func (s *Store) OpenForUpload(info *models.AttachmentInfo) (io.ReadCloser, int64, error) {
	path := info.FilePath
	if path == "" {
		path = s.BlobPath(info)
	}
	return OpenPath(path)
}

// OpenPath returns a chunked reader over one on-disk file together with its
// size. Drivers that upload attachments by path go through it so every
// upstream upload streams in uploadChunkSize pieces. The caller closes the
// reader.
func OpenPath(path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, platform.ErrNotFound("attachment blob "+path, err)
		}
		return nil, 0, platform.ErrIO("opening attachment blob", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, platform.ErrIO("sizing attachment blob", err)
	}
	return &chunkedReader{src: f}, st.Size(), nil
}
