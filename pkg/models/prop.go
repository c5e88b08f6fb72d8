package models

import "time"

// PropRecord is a point-in-time observation of one player prop at one sportsbook
type PropRecord struct {
	PropID             string    `json:"prop_id"`
	PlayerName         string    `json:"player_name"`
	Sport              string    `json:"sport"`
	Market             string    `json:"market"`
	Line               *float64  `json:"line,omitempty"`
	OverOdds           *int      `json:"over_odds,omitempty"`
	UnderOdds          *int      `json:"under_odds,omitempty"`
	Sportsbook         string    `json:"sportsbook"`
	ImpliedProbability float64   `json:"implied_probability"`
	Projection         *float64  `json:"projection,omitempty"`
	EdgePercentage     *float64  `json:"edge_percentage,omitempty"`
	EVValue            *float64  `json:"ev_value,omitempty"`
	ConfidenceScore    *float64  `json:"confidence_score,omitempty"`
	LastUpdated        time.Time `json:"last_updated"`
}

// MarketKey groups props for the same player and market across books
func (p PropRecord) MarketKey() string {
	return p.PlayerName + ":" + p.Market
}

// MovementAnalysis summarises line movement for a prop at one book over a lookback window
type MovementAnalysis struct {
	PropID       string    `json:"prop_id"`
	Sportsbook   string    `json:"sportsbook"`
	HoursBack    int       `json:"hours_back"`
	OpeningLine  *float64  `json:"opening_line,omitempty"`
	CurrentLine  *float64  `json:"current_line,omitempty"`
	LineMovement float64   `json:"line_movement"`
	OddsMovement int       `json:"odds_movement"`
	DataPoints   int       `json:"data_points"`
	AnalyzedAt   time.Time `json:"analyzed_at"`
}

// SteamResult reports synchronized movement detected across books
type SteamResult struct {
	PropID        string    `json:"prop_id"`
	Direction     string    `json:"direction"` // "up" or "down"
	BooksMoving   []string  `json:"books_moving"`
	AvgMovement   float64   `json:"avg_movement"`
	WindowMinutes int       `json:"window_minutes"`
	DetectedAt    time.Time `json:"detected_at"`
}
