// Package testutil contains helper fakes and utilities used across tests to
// reduce boilerplate when exercising sessions, the agent pool and the
// workflow engine against a scripted agent runtime. These helpers are
// intentionally minimal and avoid adding third‑party dependencies. They are
// not intended for production usage.
package testutil
