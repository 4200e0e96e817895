package utils

import "io"

// DrainAndClose drains and closes an HTTP response body so the underlying
// connection can be reused by the transport. Safe on a nil body.
func DrainAndClose(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, rc)
	return rc.Close()
}
