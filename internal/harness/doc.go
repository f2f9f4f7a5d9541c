// Package harness runs reconciliation scenarios described in YAML.
//
// A scenario seeds an in-memory vault and a fake bot, runs one or more
// passes through the real reconciler, then checks the outcome:
//
//	name: replied_flips
//	description: "A reply from the partner flips Replied? to true"
//	documents:
//	  Scenes/Lighthouse.md: |
//	    ---
//	    Link: https://discord.com/channels/1/2/3
//	    Characters: Ada
//	    Replied?: false
//	    Participants: 2
//	    ---
//	linked:
//	  - path: Scenes/Lighthouse.md
//	    thread: "3"
//	    characters: [Ada]
//	threads:
//	  "3": { replied: true, participants: 2 }
//	passes:
//	  - trigger: manual
//	    expect: { outcome: ok, updated: 1 }
//	assertions:
//	  - type: document_value
//	    path: Scenes/Lighthouse.md
//	    key: Replied?
//	    value: true
//
// # Assertion Types
//
//   - document_value: a front-block key has the given value
//   - document_unchanged: a document still has its seeded text
//   - notice: a notice of the given kind was raised, optionally containing text
//   - notice_count: exactly count notices were raised
//   - query_count: the bot was asked about a thread exactly count times
//   - journal_count: exactly count passes were journaled
//
// # Deterministic Runs
//
// Pass ids come from testutil.SequentialIDs and timestamps from
// testutil.FakeTime, so a scenario's Snapshot is identical across runs and
// can be compared against a golden file.
package harness
