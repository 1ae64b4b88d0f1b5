package api

// Route constants for the API endpoints

const (
	// Health endpoints
	PingEndpoint = "/ping" // Health check endpoint

	// Poll endpoints
	InfoEndpoint      = "/info"      // GET: Poll settings and size
	ChallengeEndpoint = "/challenge" // GET: New registration challenge
	RegisterEndpoint  = "/register"  // POST: Register a leaf
	VoteEndpoint      = "/vote"      // POST: Submit a vote proof
	RootsEndpoint     = "/roots"     // GET: Recognized roots
	ResultsEndpoint   = "/results"   // GET: Tally

	// Prometheus exposition
	MetricsEndpoint = "/metrics"
)

// LogExcludedPrefixes defines URL prefixes to exclude from request logging
var LogExcludedPrefixes = []string{
	PingEndpoint,
	MetricsEndpoint,
}
