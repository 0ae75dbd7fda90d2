// Package logging sets up structured JSON logging for hybridrag.
//
// Logs go to a size-rotated file under the data directory. Interactive
// commands may mirror them to stderr; the MCP stdio server never does,
// because stdout and stderr belong to the protocol stream there.
package logging
