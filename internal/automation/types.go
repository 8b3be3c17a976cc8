package automation

import (
	"fmt"
	"strconv"
	"strings"
)

// NudgeOffset is added to the surface weight to force a recalculation when a
// row repeats the values the form was opened with.
const NudgeOffset = 1000

// InputRow is one pair of values to type into the form. Values stay as text
// and are sent exactly as given.
type InputRow struct {
	Depth         string `json:"depth"`
	SurfaceWeight string `json:"surface_weight"`
}

// ResultRow is the settled output read back for one InputRow.
type ResultRow struct {
	Value string `json:"value"`
}

// Session is the state one batch keeps about the form. It lives for exactly
// one RunBatch call.
type Session struct {
	// SurfaceLoadBaseline is the surface weight field at batch start.
	SurfaceLoadBaseline string
	// DepthBaseline is the depth field at batch start.
	DepthBaseline string
	// PreviousOutput is the last output confirmed fresh. Settling waits for
	// the output field to move away from it.
	PreviousOutput string
}

// needsNudge reports whether writing row would leave the form unchanged from
// its opening surface weight at the depth it currently shows. The surface
// weight is compared against the baseline while depth is compared against a
// fresh read.
func (s *Session) needsNudge(row InputRow, currentDepth string) bool {
	return row.SurfaceWeight == s.SurfaceLoadBaseline && row.Depth == currentDepth
}

// nudgeValue returns surfaceWeight + NudgeOffset as entry text.
func nudgeValue(surfaceWeight string) (string, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(surfaceWeight), 64)
	if err != nil {
		return "", fmt.Errorf("surface weight %q is not numeric: %w", surfaceWeight, err)
	}
	return strconv.FormatFloat(value+NudgeOffset, 'f', -1, 64), nil
}
