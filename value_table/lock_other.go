//go:build !unix

package value_table

import "github.com/rs/zerolog/log"

// lockFile is a no-op where flock is unavailable; concurrent savers may then lose a
// merge, which the next save repairs.
func lockFile(path string, _ bool) (func(), error) {
	log.Debug().Str("path", path).Msg("advisory file locks unsupported on this platform")
	return func() {}, nil
}
