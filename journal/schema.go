package journal

// Schema is the DDL of the viewer event journal.
const Schema = `
CREATE TABLE IF NOT EXISTS viewer_events (
    event_id TEXT PRIMARY KEY,
    at_ms INTEGER NOT NULL,
    event_type TEXT NOT NULL,
    generation INTEGER NOT NULL DEFAULT 0,
    document TEXT NOT NULL DEFAULT '',
    page INTEGER NOT NULL DEFAULT 0,
    total INTEGER NOT NULL DEFAULT 0,
    detail TEXT NOT NULL DEFAULT '{}',
    error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_viewer_events_time ON viewer_events(at_ms DESC);
CREATE INDEX IF NOT EXISTS idx_viewer_events_type ON viewer_events(event_type, at_ms DESC);
CREATE INDEX IF NOT EXISTS idx_viewer_events_document ON viewer_events(document, at_ms DESC);
`

