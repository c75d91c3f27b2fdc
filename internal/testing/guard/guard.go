package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("GEARBOX_TEST_MODE") == "" {
			_ = os.Setenv("GEARBOX_TEST_MODE", "1")
		}
	})
}
