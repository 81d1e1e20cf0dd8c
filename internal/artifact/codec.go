// Package artifact serializes decisioned time series for downstream
// analysis and reads them back for incremental updates.
package artifact

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veldtlabs/veldt/pkg/types"
)

// Record is one emitted artifact row: everything downstream analysis needs
// about one series entry.
type Record struct {
	Timestamp          time.Time            `json:"timestamp"`
	Region             string               `json:"region"`
	Index              string               `json:"index"`
	Value              float64              `json:"value"`
	CloudFraction      float64              `json:"cloudFraction"`
	ValidPixelFraction float64              `json:"validPixelFraction"`
	Gap                bool                 `json:"gap"`
	Decision           types.PolicyDecision `json:"decision"`
}

// Encode renders a series as JSON lines, one record per entry.
func Encode(ts *types.TimeSeries) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range ts.Entries {
		rec := Record{
			Timestamp:          e.Timestamp,
			Region:             ts.Region,
			Index:              ts.Index,
			Value:              e.Value,
			CloudFraction:      e.Quality.CloudFraction,
			ValidPixelFraction: e.Quality.ValidPixelFraction,
			Gap:                e.Quality.Gap,
			Decision:           e.Decision,
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encoding entry at %s: %w", e.Timestamp.Format(time.RFC3339), err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Decode parses JSON lines back into a series. The round trip through
// Encode and Decode preserves every (timestamp, value, flag, decision)
// tuple exactly.
func Decode(data []byte) (*types.TimeSeries, error) {
	ts := &types.TimeSeries{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("decoding artifact line: %w", err)
		}
		if ts.Region == "" {
			ts.Region = rec.Region
			ts.Index = rec.Index
		}
		ts.Append(types.SeriesEntry{
			Timestamp: rec.Timestamp,
			Value:     rec.Value,
			Quality: types.QualityFlag{
				CloudFraction:      rec.CloudFraction,
				ValidPixelFraction: rec.ValidPixelFraction,
				Gap:                rec.Gap,
			},
			Decision: rec.Decision,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning artifact: %w", err)
	}
	return ts, nil
}

// Key returns the canonical artifact object name for a pair and window,
// mirroring the original export naming.
func Key(region, index string, window types.TimeWindow) string {
	return fmt.Sprintf("%s/%s_%s_to_%s.jsonl",
		region, index,
		window.Start.UTC().Format("2006-01-02"),
		window.End.UTC().Format("2006-01-02"))
}

// PairPrefix returns the listing prefix covering every artifact of a pair.
func PairPrefix(region, index string) string {
	return fmt.Sprintf("%s/%s_", region, index)
}
