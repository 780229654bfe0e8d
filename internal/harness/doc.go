// Package harness replays scripted trace signals through the capture path
// and checks the resulting stores.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	counters: [memory, io, handles]
//	failures:
//	  - category: io
//	    call: 2
//	functions:
//	  main:
//	    path: app.py
//	    module: app
//	    name: main
//	    first_line: 1
//	signals:
//	  - kind: call
//	    at: 100
//	    function: main
//	    depth: 1
//	  - kind: line
//	    at: 250
//	    function: main
//	    line: 5
//	assertions:
//	  - type: field
//	    record: 0
//	    field: Elapsed
//	    expect: 150
//	  - type: record_count
//	    store: Event
//	    count: 2
//
// # Assertion Types
//
//   - record_count: a store holds exactly count records
//   - field: column field of record in store (default Event) equals expect
//   - dropped: exactly count signals were dropped
//   - disabled: exactly the listed counter categories ended up disabled
//
// # Deterministic Testing
//
// Every scenario runs against an in-memory backing with a deterministic
// tick source and a scripted counter sampler (testutil.ScriptedSampler), so
// timestamps, counters and deltas are reproducible and can be compared
// against golden snapshots.
package harness
