// Package models defines the core domain entities: market snapshots, signals,
// oracle judgments, opportunities and the durable scan state.
package models

import (
	"errors"
	"time"
)

// MarketSnapshot is one yes/no prediction market as quoted at scan time.
// Probabilities are percentages in [0,100] and come from independent quotes,
// so YES + NO is not guaranteed to equal 100.
type MarketSnapshot struct {
	ID             string    `json:"id"`
	Question       string    `json:"question"`
	YesProbability float64   `json:"yes_probability"`
	NoProbability  float64   `json:"no_probability"`
	Volume         float64   `json:"volume"`
	Liquidity      float64   `json:"liquidity"`
	Category       string    `json:"category"`
	EndDate        time.Time `json:"end_date"`
	URL            string    `json:"url"`
}

// Validate checks snapshot field constraints.
func (m *MarketSnapshot) Validate() error {
	if m.ID == "" {
		return errors.New("market ID must not be empty")
	}
	if m.Question == "" {
		return errors.New("market question must not be empty")
	}
	if m.YesProbability < 0 || m.YesProbability > 100 {
		return errors.New("yes probability must be between 0 and 100")
	}
	if m.NoProbability < 0 || m.NoProbability > 100 {
		return errors.New("no probability must be between 0 and 100")
	}
	if m.YesProbability == 0 && m.NoProbability == 0 {
		return errors.New("market has no quoted probabilities")
	}
	if m.Volume < 0 {
		return errors.New("volume must not be negative")
	}
	if m.Liquidity < 0 {
		return errors.New("liquidity must not be negative")
	}
	return nil
}
