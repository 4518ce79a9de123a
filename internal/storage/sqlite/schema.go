package sqlite

// Schema creates all document tables. Documents are stored as JSON in the doc
// column; the remaining columns are denormalized copies of the fields the
// indexed queries filter and sort on, kept in sync on every write.
const Schema = `
CREATE TABLE IF NOT EXISTS children (
    user_id  TEXT NOT NULL,
    child_id TEXT NOT NULL,
    doc      TEXT NOT NULL,
    PRIMARY KEY (user_id, child_id)
);

CREATE TABLE IF NOT EXISTS entities (
    user_id           TEXT NOT NULL,
    child_id          TEXT NOT NULL,
    id                TEXT NOT NULL,
    type              TEXT NOT NULL,
    name              TEXT NOT NULL,
    strength          REAL NOT NULL DEFAULT 0,
    mention_count     INTEGER NOT NULL DEFAULT 0,
    last_mentioned_at TEXT NOT NULL DEFAULT '',
    doc               TEXT NOT NULL,
    PRIMARY KEY (user_id, child_id, id)
);

CREATE INDEX IF NOT EXISTS idx_entities_scope_type
    ON entities(user_id, child_id, type);

CREATE TABLE IF NOT EXISTS edges (
    user_id   TEXT NOT NULL,
    child_id  TEXT NOT NULL,
    id        TEXT NOT NULL,
    edge_type TEXT NOT NULL,
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    weight    REAL NOT NULL DEFAULT 0,
    doc       TEXT NOT NULL,
    PRIMARY KEY (user_id, child_id, id)
);

CREATE INDEX IF NOT EXISTS idx_edges_scope_type
    ON edges(user_id, child_id, edge_type, weight);
CREATE INDEX IF NOT EXISTS idx_edges_scope_source
    ON edges(user_id, child_id, source_id);
CREATE INDEX IF NOT EXISTS idx_edges_scope_target
    ON edges(user_id, child_id, target_id);

CREATE TABLE IF NOT EXISTS observations (
    user_id  TEXT NOT NULL,
    child_id TEXT NOT NULL,
    id       TEXT NOT NULL,
    doc      TEXT NOT NULL,
    PRIMARY KEY (user_id, child_id, id)
);

CREATE TABLE IF NOT EXISTS summaries (
    user_id  TEXT NOT NULL,
    child_id TEXT NOT NULL,
    doc      TEXT NOT NULL,
    PRIMARY KEY (user_id, child_id)
);

CREATE TABLE IF NOT EXISTS conversations (
    user_id       TEXT NOT NULL,
    child_id      TEXT NOT NULL,
    id            TEXT NOT NULL,
    toy_id        TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    started_at    TEXT NOT NULL,
    last_activity TEXT NOT NULL,
    doc           TEXT NOT NULL,
    PRIMARY KEY (user_id, child_id, id)
);

CREATE INDEX IF NOT EXISTS idx_conversations_scope_status
    ON conversations(user_id, child_id, status, last_activity);
`
