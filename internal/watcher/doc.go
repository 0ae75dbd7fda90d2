// Package watcher feeds a drop folder into the ingestion pipeline.
//
// A Source watches one flat directory with fsnotify, falling back to
// polling where fsnotify is unavailable (network mounts, some container
// volumes). Events are debounced per file so an upload written in several
// chunks is ingested once. DropWatcher turns the debounced batches into
// pipeline calls:
//
//	src, _ := watcher.NewSource(watcher.DefaultOptions())
//	dw := watcher.NewDropWatcher(src, pipeline, watcher.DropOptions{})
//	go dw.Run(ctx, "/srv/inbox")
//
// Creates and modifications re-ingest the file under its base name;
// deletions remove that document.
package watcher
