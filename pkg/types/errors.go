package types

import (
	"fmt"
	"time"
)

// RetrievalError wraps a transient provider failure (network, auth, 5xx).
// The fetcher retries these with backoff before surfacing them as fatal for
// the affected scene.
type RetrievalError struct {
	SceneID string
	Err     error
}

func (e *RetrievalError) Error() string {
	if e.SceneID == "" {
		return fmt.Sprintf("retrieval failed: %v", e.Err)
	}
	return fmt.Sprintf("retrieval failed for scene %s: %v", e.SceneID, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// NoDataError signals that the provider reported zero matching observations
// for a region and window. This is an expected boundary condition: callers
// translate it into an empty tile sequence plus a warning, never a fatal
// error.
type NoDataError struct {
	Region string
	Window TimeWindow
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("no observations for region %s in %s/%s",
		e.Region,
		e.Window.Start.Format(time.RFC3339),
		e.Window.End.Format(time.RFC3339))
}

// MissingBandError reports a band required by an index formula that is
// absent from a Tile. Fatal for that (tile, index) computation only; other
// indices of the same tile continue.
type MissingBandError struct {
	Index   string
	Band    string
	SceneID string
}

func (e *MissingBandError) Error() string {
	return fmt.Sprintf("index %s: band %s missing from scene %s", e.Index, e.Band, e.SceneID)
}

// EmptyWindowError reports that assembly produced zero entries for a
// (region, index) pair. Fatal for that pair, surfaced in the run summary.
type EmptyWindowError struct {
	Region string
	Index  string
}

func (e *EmptyWindowError) Error() string {
	return fmt.Sprintf("empty window: no entries assembled for %s/%s", e.Region, e.Index)
}
