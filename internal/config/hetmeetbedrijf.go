package config

// HetMeetbedrijfConfig controls how we talk to the HetMeetbedrijf metering API.
type HetMeetbedrijfConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

func loadHetMeetbedrijf() HetMeetbedrijfConfig {
	return HetMeetbedrijfConfig{
		BaseURL:      envOrDefault(envHmbBaseURL, defaultHmbBaseURL),
		TokenURL:     envOrDefault(envHmbTokenURL, ""),
		ClientID:     envOrDefault(envHmbClientID, ""),
		ClientSecret: envOrDefault(envHmbClientSecret, ""),
	}
}
