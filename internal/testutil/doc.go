// Package testutil provides fakes shared by package tests: an in-memory bot
// API, an in-memory document store, a stepping wall clock and sequential
// id generators.
package testutil
