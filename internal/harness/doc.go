// Package harness runs YAML scenarios against the reading domain.
//
// A scenario seeds an in-process reading server, drives a client source
// through sync, act and network steps, and then asserts on the client
// space and the step trace.
//
// # Scenario Format
//
//	name: add_and_archive
//	description: "Adding puts an item first; archiving moves it"
//	seed:
//	  - {_type: Item, given_url: "https://b.example", title: "B"}
//	flow:
//	  - sync: {type: Saves, identity: {state: unread}}
//	    expect: {status: success, fields: {total: 1}}
//	  - act: item_add
//	    args: {url: "https://a.example", title: "A"}
//	    priority: high
//	    refresh: {type: Saves, identity: {state: unread}}
//	  - network: false
//	assertions:
//	  - type: list
//	    state: unread
//	    urls: ["https://a.example", "https://b.example"]
//	  - type: state
//	    template: {type: Item, identity: {given_url: "https://a.example"}}
//	    expect: {title: A}
//
// # Assertion Types
//
//   - state: a record exists and its fields match expect (subset match)
//   - absent: no record matches template
//   - list: a Saves list holds exactly urls, in order
//   - trace_count: an act step ran exactly count times
//   - trace_order: act steps first ran in this relative order
//
// # Deterministic Testing
//
// Each run uses a fresh server and space, one worker, and a logical clock
// starting at zero, and awaits quiescence after every step. Traces are
// therefore stable enough to compare against golden files.
package harness
