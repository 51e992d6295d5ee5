// Package memory turns judge decisions into stored observations.
//
// An observation is one of four memory types:
//   - long_term_people: a person the user keeps in contact with
//   - long_term_preferences: an app, channel or source the user returns to over days
//   - short_term_content: content engaged with within a single day
//   - short_term_preferences: a recent habit or time-of-day routine
//
// Architecture:
//   - Emitter: maps a decision to an observation, embeds it once and stores it
//   - Store: storage backend (chromem-go vectors locally, postgres for structured rows)
//   - Embedder: text-to-vector conversion (mock for tests, Gemini in production)
//   - Record: flat storage form shared by the backends
package memory
