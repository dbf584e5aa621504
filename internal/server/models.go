package server

// HTTPError is the JSON error envelope returned by all endpoints.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// ResearchRequest starts one streamed research session.
type ResearchRequest struct {
	Query           string  `json:"query"`
	ForceComplexity string  `json:"force_complexity,omitempty"` // simple|moderate|complex
	SkipRound2      bool    `json:"skip_round2,omitempty"`
	MaxCost         float64 `json:"max_cost,omitempty"`
}

type SavedQueryRequest struct {
	Name         string `json:"name"`
	Query        string `json:"query"`
	ScheduleCron string `json:"schedule_cron,omitempty"`
}
