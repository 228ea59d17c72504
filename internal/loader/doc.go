// Package loader holds the resource-loader collaborators the engine runs as
// units of work: the network loader over the Disk Store and Fetch Source, the
// stream materializer, and the bundle reader for assets and raw resources.
// Every loader resolves to the path of a complete local file.
package loader
