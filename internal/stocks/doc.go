// Package stocks finds stock codes in post text and confirms them against
// external lookup services.
//
// Extraction is a pure regex pass with static exclusion lists. Validation
// fans candidates out to a domestic (FinMind) and a foreign (Alpha Vantage)
// lookup concurrently; a failed lookup drops that one candidate and never the
// rest. Definitive answers are cached so repeated mentions of the same code do
// not burn lookup quota.
package stocks
