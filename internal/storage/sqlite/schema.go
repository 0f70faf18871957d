package sqlite

// Schema is the full SQLite schema. It is applied on every open; all
// statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    id               TEXT PRIMARY KEY,
    owner            TEXT NOT NULL DEFAULT '',
    content          TEXT NOT NULL,
    embedding        BLOB,
    embedding_dim    INTEGER NOT NULL DEFAULT 0,
    memory_type      TEXT NOT NULL,
    importance       REAL NOT NULL DEFAULT 0,
    access_count     INTEGER NOT NULL DEFAULT 0,
    last_accessed_at TIMESTAMP,
    created_at       TIMESTAMP NOT NULL,
    conversation_id  TEXT NOT NULL DEFAULT '',
    tags             TEXT,
    metadata         TEXT
);

CREATE INDEX IF NOT EXISTS idx_memories_owner        ON memories(owner);
CREATE INDEX IF NOT EXISTS idx_memories_type         ON memories(memory_type);
CREATE INDEX IF NOT EXISTS idx_memories_created_at   ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_importance   ON memories(importance);
CREATE INDEX IF NOT EXISTS idx_memories_conversation ON memories(conversation_id);

CREATE TABLE IF NOT EXISTS working_memory (
    session_id        TEXT PRIMARY KEY,
    context_data      TEXT,
    short_term_memory TEXT,
    expires_at        TIMESTAMP,
    active            INTEGER NOT NULL DEFAULT 1,
    created_at        TIMESTAMP NOT NULL,
    updated_at        TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_working_active ON working_memory(active);
`
