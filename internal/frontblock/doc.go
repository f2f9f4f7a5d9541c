// Package frontblock reads and rewrites the key/value block embedded at the
// top of a scene document.
//
// A front-block is only recognized when the document starts with a "---"
// line and a matching closing "---" line follows:
//
//	---
//	Link: https://discord.com/channels/1/2/3
//	Characters:
//	  - Ada
//	Replied?: false
//	---
//	Body text, never touched.
//
// Reads decode each entry's value with yaml.v3, one entry at a time, so a
// hand-edited block with duplicate keys still parses (the last occurrence
// wins). Writes are line-level: only the lines of the named keys change,
// everything else in the document stays byte-for-byte identical.
package frontblock
