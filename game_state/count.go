package game_state

import (
	"bytes"
	"encoding/json"
	"math"
)

// Count is a non-fractional game quantity (troops, gold, tiles). Hosts report some of
// these as floating point; they decode truncated toward zero, and null decodes as 0.
type Count int64

func (c *Count) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*c = 0
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*c = Count(math.Trunc(f))
	return nil
}
