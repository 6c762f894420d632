// Package memory implements the bounded per-loop step memory and the
// archives that keep collapsed steps auditable.
//
// A Store keeps raw steps up to a capacity. Once the raw count exceeds the
// summarization threshold T, Summarize collapses the oldest steps into a
// single core.MemoryRecord, keeping the most recent T/2 raw steps intact.
// Collapsed steps are handed to a core.Archive before they leave the window.
//
// Archives: InMemoryArchive (process local), redisstore (Redis lists) and
// gormstore (SQL via gorm).
package memory
