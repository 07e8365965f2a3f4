package app

// Feature names an optional capability of the server
type Feature string

const (
	// FeatureSIPUserAgent registers the server as a SIP user agent.
	FeatureSIPUserAgent Feature = "sip-useragent"
	// FeatureSIPProxy runs the legacy SIP proxy mode.
	FeatureSIPProxy Feature = "sip-proxy"
)

// KnownFeatures lists every recognised feature
var KnownFeatures = []Feature{FeatureSIPUserAgent, FeatureSIPProxy}

// FeatureEnabled reports whether f is active. No optional feature is
// available in this build.
func (s *State) FeatureEnabled(f Feature) bool {
	return false
}
