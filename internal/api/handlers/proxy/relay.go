package proxy

import (
	"errors"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// flushWriter is the subset of gin.ResponseWriter the relay needs.
type flushWriter interface {
	io.Writer
	http.Flusher
}

// relay copies src to w in chunks of chunkSize bytes, flushing after each write.
// It stops at EOF, on a read error, or when the caller stops accepting bytes.
func relay(w flushWriter, src io.Reader, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	buf := make([]byte, chunkSize)
	var written int64
	for {
		n, errRead := src.Read(buf)
		if n > 0 {
			m, errWrite := w.Write(buf[:n])
			written += int64(m)
			if errWrite != nil {
				return written, errWrite
			}
			w.Flush()
		}
		if errRead != nil {
			if errors.Is(errRead, io.EOF) {
				return written, nil
			}
			return written, errRead
		}
	}
}

func closeBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	if err := resp.Body.Close(); err != nil {
		log.Debugf("proxy: close upstream body: %v", err)
	}
}
