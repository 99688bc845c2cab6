package fetch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const copyBufferSize = 32 * 1024

// StreamToFile copies body to a new file at dest, reporting progress to
// sink chunk by chunk. The body is never buffered whole; large uploads
// stay off the heap. On any read or write error the partially written
// file is left on disk as evidence of the failure. On success the sink
// is finished with a download message.
func StreamToFile(body io.Reader, contentLength int64, dest string, sink ProgressSink) (int64, error) {
	if contentLength > 0 {
		sink.SetTotal(contentLength)
	} else {
		sink.SetTotal(0)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}

	var written int64
	buf := make([]byte, copyBufferSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				return written, fmt.Errorf("write chunk: %w", werr)
			}
			written += int64(n)
			sink.Advance(int64(n))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			return written, fmt.Errorf("read chunk: %w", rerr)
		}
	}

	if err := f.Close(); err != nil {
		return written, fmt.Errorf("close output file: %w", err)
	}

	sink.Finish(fmt.Sprintf("Downloaded %s", filepath.Base(dest)))
	return written, nil
}
