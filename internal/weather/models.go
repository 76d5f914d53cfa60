package weather

import (
	"errors"
	"fmt"
	"time"
)

// TimestampLayout is the fixed format of NormalizedRecord.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

var (
	// ErrMalformedPayload is returned when the upstream body is not a JSON object.
	ErrMalformedPayload = errors.New("malformed upstream payload")
	// ErrMissingField is returned when a required upstream field is absent.
	ErrMissingField = errors.New("missing required upstream field")
)

// UpstreamRecord is the OpenWeatherMap "current weather" payload for one city.
// Required fields are pointers so that absence can be told apart from zero.
type UpstreamRecord struct {
	Dt   *int64 `json:"dt"`
	Main struct {
		Temp     *float64 `json:"temp"`
		Humidity *float64 `json:"humidity"`
		Pressure *float64 `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed *float64 `json:"speed"`
		Deg   *float64 `json:"deg"`
	} `json:"wind"`
	Clouds struct {
		All *float64 `json:"all"`
	} `json:"clouds"`
	// Rain is omitted by the provider when there is no precipitation.
	Rain *struct {
		OneH *float64 `json:"1h"`
	} `json:"rain"`
	Weather []struct {
		Description *string `json:"description"`
	} `json:"weather"`
}

// NormalizedRecord is the fixed-schema event sent to the downstream sink.
// All ten fields are always present.
type NormalizedRecord struct {
	Timestamp   string  `json:"timestamp"`
	SiteName    string  `json:"site_name"`
	TempF       float64 `json:"temp_f"`
	Precip      float64 `json:"precip"`
	Humidity    float64 `json:"humidity"`
	Pressure    float64 `json:"pressure"`
	WindSpeed   float64 `json:"wind_speed"`
	WindDir     float64 `json:"wind_dir"`
	Clouds      float64 `json:"clouds"`
	Description string  `json:"description"`
}

// Time parses the record timestamp back in the given location.
func (r NormalizedRecord) Time(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(TimestampLayout, r.Timestamp, loc)
}

// FormatTimestamp converts an epoch in seconds to the record timestamp format in loc.
func FormatTimestamp(epoch int64, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(epoch, 0).In(loc).Format(TimestampLayout)
}

// Normalize maps an upstream record for site into a NormalizedRecord.
// Precipitation defaults to 0 when the payload carries no hourly rain value.
func Normalize(site string, rec UpstreamRecord, loc *time.Location) (NormalizedRecord, error) {
	missing := func(field string) (NormalizedRecord, error) {
		return NormalizedRecord{}, fmt.Errorf("%w: %s", ErrMissingField, field)
	}

	switch {
	case rec.Dt == nil:
		return missing("dt")
	case rec.Main.Temp == nil:
		return missing("main.temp")
	case rec.Main.Humidity == nil:
		return missing("main.humidity")
	case rec.Main.Pressure == nil:
		return missing("main.pressure")
	case rec.Wind.Speed == nil:
		return missing("wind.speed")
	case rec.Wind.Deg == nil:
		return missing("wind.deg")
	case rec.Clouds.All == nil:
		return missing("clouds.all")
	case len(rec.Weather) == 0 || rec.Weather[0].Description == nil:
		return missing("weather[0].description")
	}

	precip := 0.0
	if rec.Rain != nil && rec.Rain.OneH != nil {
		precip = *rec.Rain.OneH
	}

	return NormalizedRecord{
		Timestamp:   FormatTimestamp(*rec.Dt, loc),
		SiteName:    site,
		TempF:       *rec.Main.Temp,
		Precip:      precip,
		Humidity:    *rec.Main.Humidity,
		Pressure:    *rec.Main.Pressure,
		WindSpeed:   *rec.Wind.Speed,
		WindDir:     *rec.Wind.Deg,
		Clouds:      *rec.Clouds.All,
		Description: *rec.Weather[0].Description,
	}, nil
}
