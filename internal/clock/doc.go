// Package clock maps original dataset timestamps onto simulated emit times.
//
// Two mutually exclusive modes are supported:
//   - offset: emit = original + (origin - datasetStart)
//   - scaled: emit = origin + (original - datasetStart) / speed
//
// A Clock holds no global state; each replay run owns one. Wall abstracts the
// system clock so runs can be driven by a Virtual clock in tests.
package clock
