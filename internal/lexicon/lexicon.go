// Package lexicon validates activity record payloads against the recognized
// collection schema variants.
package lexicon

import (
	"errors"
	"fmt"
	"math"
)

// Collection NSIDs recognized during the schema migration window. The two
// variants describe the same logical record and differ only in the name of
// the encoded-polyline field.
const (
	CollectionActivity       = "org.sweatosphere.activity"
	CollectionActivityLegacy = "org.sparta-social.activity"
)

// ErrRejected is the sentinel wrapped by all validation failures.
var ErrRejected = errors.New("record rejected")

// Variant describes one recognized schema variant of the activity record.
type Variant struct {
	Collection    string
	PolylineField string
}

var variants = map[string]Variant{
	CollectionActivity:       {Collection: CollectionActivity, PolylineField: "mapSummaryPolyline"},
	CollectionActivityLegacy: {Collection: CollectionActivityLegacy, PolylineField: "mapPolyline"},
}

// Recognized reports whether the collection NSID names a known variant.
func Recognized(collection string) bool {
	_, ok := variants[collection]
	return ok
}

// Collections returns the recognized collection NSIDs.
func Collections() []string {
	return []string{CollectionActivity, CollectionActivityLegacy}
}

// ValidatedActivity is the typed result of a successful validation. Only the
// polyline field belonging to the validated variant is populated.
type ValidatedActivity struct {
	Collection             string
	Title                  string
	Description            *string
	ActivityType           string
	DistanceInCm           *int64
	MovingTimeInMs         *int64
	ElapsedTimeInMs        *int64
	TotalElevationGainInCm *int64
	MapSummaryPolyline     *string
	MapPolyline            *string
	StartAtInUTC           *string
	StartAtTimeZone        *string
	CreatedAt              string
}

// ValidateRecord checks an untyped record payload against the variant named
// by collection. It is a pure check; rejected payloads carry no effect.
func ValidateRecord(collection string, payload map[string]any) (*ValidatedActivity, error) {
	variant, ok := variants[collection]
	if !ok {
		return nil, fmt.Errorf("%w: unrecognized collection %q", ErrRejected, collection)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: missing record payload", ErrRejected)
	}

	typ, ok := payload["$type"].(string)
	if !ok || (typ != collection && typ != collection+"#main") {
		return nil, fmt.Errorf("%w: $type %q does not match collection %q", ErrRejected, typ, collection)
	}

	out := ValidatedActivity{Collection: collection}

	var err error
	if out.Title, err = requiredString(payload, "title"); err != nil {
		return nil, err
	}
	if out.ActivityType, err = requiredString(payload, "activityType"); err != nil {
		return nil, err
	}
	if out.CreatedAt, err = requiredString(payload, "createdAt"); err != nil {
		return nil, err
	}

	if out.Description, err = optionalString(payload, "description"); err != nil {
		return nil, err
	}
	if out.StartAtInUTC, err = optionalString(payload, "startAtInUTC"); err != nil {
		return nil, err
	}
	if out.StartAtTimeZone, err = optionalString(payload, "startAtTimeZone"); err != nil {
		return nil, err
	}

	if out.DistanceInCm, err = optionalNonNegativeInt(payload, "distanceInCm"); err != nil {
		return nil, err
	}
	if out.MovingTimeInMs, err = optionalNonNegativeInt(payload, "movingTimeInMs"); err != nil {
		return nil, err
	}
	if out.ElapsedTimeInMs, err = optionalNonNegativeInt(payload, "elapsedTimeInMs"); err != nil {
		return nil, err
	}
	if out.TotalElevationGainInCm, err = optionalNonNegativeInt(payload, "totalElevationGainInCm"); err != nil {
		return nil, err
	}

	polyline, err := optionalString(payload, variant.PolylineField)
	if err != nil {
		return nil, err
	}
	switch variant.PolylineField {
	case "mapSummaryPolyline":
		out.MapSummaryPolyline = polyline
	case "mapPolyline":
		out.MapPolyline = polyline
	}

	return &out, nil
}

func requiredString(payload map[string]any, key string) (string, error) {
	value, present := payload[key]
	if !present {
		return "", fmt.Errorf("%w: missing required field %q", ErrRejected, key)
	}
	str, ok := value.(string)
	if !ok || str == "" {
		return "", fmt.Errorf("%w: field %q must be a non-empty string", ErrRejected, key)
	}
	return str, nil
}

func optionalString(payload map[string]any, key string) (*string, error) {
	value, present := payload[key]
	if !present || value == nil {
		return nil, nil
	}
	str, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("%w: field %q must be a string", ErrRejected, key)
	}
	return &str, nil
}

func optionalNonNegativeInt(payload map[string]any, key string) (*int64, error) {
	value, present := payload[key]
	if !present || value == nil {
		return nil, nil
	}

	var n int64
	switch v := value.(type) {
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("%w: field %q must be an integer", ErrRejected, key)
		}
		n = int64(v)
	case int:
		n = int64(v)
	case int64:
		n = v
	default:
		return nil, fmt.Errorf("%w: field %q must be a number", ErrRejected, key)
	}

	if n < 0 {
		return nil, fmt.Errorf("%w: field %q must be non-negative", ErrRejected, key)
	}
	return &n, nil
}
