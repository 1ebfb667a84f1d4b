// Package internaldefs holds the metric names, help strings, and histogram
// bounds shared by the exporter packages.
//
// The text renderer, the client_golang collector, and the OTel exporter all
// read these tables, so a rename here changes every exporter at once.
//
// # What this package must NOT do
//
//   - Import any exporter package.
//   - Perform I/O.
package internaldefs
