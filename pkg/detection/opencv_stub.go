//go:build !gocv

package detection

// NewOpenCVBackend reports ErrBackendUnavailable; build with -tags gocv to
// enable it.
func NewOpenCVBackend() (Backend, error) {
	return nil, ErrBackendUnavailable
}
