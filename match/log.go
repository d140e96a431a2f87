package match

// Logging convention in the `match` package:
// Info:
//     events for abnormal but handled behavior. This level should be silent on normal operation.
//     this includes:
//     - authorization loss (401) and the resulting session clear
//     - failed collection loads and the retry outcome
//     - failed dispatches (the optimistic removal still happens)
//     - chat channel read/write errors
// Error:
//     unexpected panics, even if recovered and suppressed for partial operation
// V(1):
//     key events with ids that can be used to filter
//     - dispatch start/end per entity
//     - chat channel state changes
//     - collection replace/clear
// V(2):
//     frequent events - e.g. each http request, each chat frame - and `Trace` timing


const (
	LogLevelKey = 1
	LogLevelFrequent = 2
)

