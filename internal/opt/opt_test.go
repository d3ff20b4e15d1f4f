package opt

import (
	"testing"
)

func TestCacheLineSize(t *testing.T) {
	if CacheLineSize_ < 32 || CacheLineSize_&(CacheLineSize_-1) != 0 {
		t.Fatalf("CacheLineSize_=%d, want a power of two >= 32", CacheLineSize_)
	}
}
