// Package pricing holds the static cost tables: what a generation costs in
// credits and what each storefront product code is worth.
package pricing

import (
	"errors"
	"fmt"
	"slices"

	"dreammotion/internal/model"
)

var (
	ErrUnknownKind         = errors.New("unknown generation kind")
	ErrInvalidDuration     = errors.New("invalid duration for model")
	ErrNonPositiveDuration = errors.New("duration must be positive")
)

// Flat per-image cost in credits.
var imageCosts = map[string]int64{
	"flux-schnell": 1,
	"flux-dev":     2,
	"flux-pro":     4,
	"sdxl":         2,
}

const defaultImageCost = 2

// Per-second video rates in credits.
var videoRates = map[string]int64{
	"kling-v1.6":  5,
	"wan-2.1":     4,
	"hailuo-02":   6,
	"pixverse-v4": 4,
}

// Unrecognized video models price at the default rate rather than being
// rejected, so new provider models work before the table catches up.
const defaultVideoRate = 5

// Durations (seconds) each known video model accepts.
var videoDurations = map[string][]int{
	"kling-v1.6":  {5, 10},
	"wan-2.1":     {5, 10},
	"hailuo-02":   {6, 10},
	"pixverse-v4": {5, 8},
}

const maxVideoDurationSec = 30

// Cost returns the credit price of a generation request. Image costs ignore
// duration; video costs are rate × duration. Durations are validated against
// the model's supported set when the model is known.
func Cost(kind model.GenerationKind, modelName string, durationSec int) (int64, error) {
	switch kind {
	case model.KindImage:
		if cost, ok := imageCosts[modelName]; ok {
			return cost, nil
		}
		return defaultImageCost, nil
	case model.KindVideo:
		if durationSec <= 0 {
			return 0, ErrNonPositiveDuration
		}
		if allowed, ok := videoDurations[modelName]; ok {
			if !slices.Contains(allowed, durationSec) {
				return 0, fmt.Errorf("%w: %s does not support %ds", ErrInvalidDuration, modelName, durationSec)
			}
			return videoRates[modelName] * int64(durationSec), nil
		}
		if durationSec > maxVideoDurationSec {
			return 0, fmt.Errorf("%w: %ds exceeds the %ds ceiling", ErrInvalidDuration, durationSec, maxVideoDurationSec)
		}
		return defaultVideoRate * int64(durationSec), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
