//go:build adaptrw_cachelinesize_256

package opt

// CacheLineSize_ is forced to 256 bytes.
// Use: go build -tags=adaptrw_cachelinesize_256
const CacheLineSize_ = 256
