// Package harness runs seek scenarios against the player.
//
// A scenario records a list of editor events into a session, replays the
// session with a sequence of seeks, and checks the state after each seek.
// Every seek is traced (its steps, the adapter calls it caused, and the
// resulting workspace state) so that the trace can be compared against a
// golden file.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	step_threshold: 2
//	blobs:
//	  main: "package main\n"
//	events:
//	  - {clock: 0, type: fsCreate, uri: main.go, file: main}
//	  - {clock: 1, type: showTextEditor, uri: main.go}
//	  - {clock: 2, type: textChange, uri: main.go, range: [1, 0, 1, 0], text: "// hi\n"}
//	seeks:
//	  - clock: 2
//	    expect:
//	      texts: {main.go: "package main\n// hi\n"}
//	      strategy: wholesale
//	  - clock: 0
//	    stepwise: true
//	assertions:
//	  - type: stepwise_equivalent
//	  - type: round_trip
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - stepwise_equivalent: a step-only player reaches the same state at every seek
//   - round_trip: seeking to the end and back to zero restores the empty workspace
//   - final_text: a document has the given text after the last seek
//   - event_count: the session has the given number of events
//   - adapter_order: adapter calls appear in the given order
//   - store_round_trip: the session survives the SQLite library unchanged
//
// # Deterministic Testing
//
// Event ids come from the recording order and blobs live in memory, so a
// scenario produces the same trace on every run. The harness uses:
//   - An in-memory blob store (testutil.MapBlobs)
//   - A tracing adapter that records calls instead of touching a host
//   - An in-memory SQLite library for store_round_trip
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/typing.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, err := range result.Errors {
//	        log.Println(err)
//	    }
//	}
package harness
