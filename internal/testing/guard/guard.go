package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("SHIKSHA_TEST_MODE") == "" {
			_ = os.Setenv("SHIKSHA_TEST_MODE", "1")
		}
	})
}
