// Package guard forces test mode for any binary that imports it.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("FLIGHTDECK_TEST_MODE") == "" {
			_ = os.Setenv("FLIGHTDECK_TEST_MODE", "1")
		}
	})
}
