package hetmeetbedrijf

import "time"

// Name identifies the provider in logs and metrics.
const Name = "hetmeetbedrijf"

const (
	defaultBaseURL     = "https://api.hetmeetbedrijf.nl/uwmeetdata/api"
	defaultHTTPTimeout = 30 * time.Second
	// The token response carries no lifetime; hourly runs get a fresh token each time.
	defaultTokenTTL = 50 * time.Minute

	grantTypeAPI     = "API"
	tokenContentType = "application/json-patch+json"

	metersPath  = "/Meter/MyMeters"
	rawDataPath = "/Data/GetDataRaw"

	rawChannel   = "0"
	rawCompanyID = "0"
)
