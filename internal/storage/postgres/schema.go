// Package postgres implements the record store on PostgreSQL. Embeddings
// are stored in a pgvector column when the extension is present, falling
// back to a bytea blob otherwise; either way the in-process index stays
// the query path and this store stays authoritative.
package postgres

// Schema is the base schema. All statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    id               TEXT PRIMARY KEY,
    owner            TEXT NOT NULL DEFAULT '',
    content          TEXT NOT NULL,
    embedding        BYTEA,
    embedding_dim    INTEGER NOT NULL DEFAULT 0,
    memory_type      TEXT NOT NULL,
    importance       REAL NOT NULL DEFAULT 0,
    access_count     INTEGER NOT NULL DEFAULT 0,
    last_accessed_at TIMESTAMP,
    created_at       TIMESTAMP NOT NULL,
    conversation_id  TEXT NOT NULL DEFAULT '',
    tags             JSONB,
    metadata         JSONB
);

CREATE INDEX IF NOT EXISTS idx_memories_owner        ON memories(owner);
CREATE INDEX IF NOT EXISTS idx_memories_type         ON memories(memory_type);
CREATE INDEX IF NOT EXISTS idx_memories_created_at   ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_importance   ON memories(importance);
CREATE INDEX IF NOT EXISTS idx_memories_conversation ON memories(conversation_id);

CREATE TABLE IF NOT EXISTS working_memory (
    session_id        TEXT PRIMARY KEY,
    context_data      JSONB,
    short_term_memory JSONB,
    expires_at        TIMESTAMP,
    active            BOOLEAN NOT NULL DEFAULT TRUE,
    created_at        TIMESTAMP NOT NULL,
    updated_at        TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_working_active ON working_memory(active);
`

// MigrationPgvector adds a native vector column alongside the bytea blob.
// Applied only when the vector extension is available; safe to re-run.
const MigrationPgvector = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'memories' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE memories ADD COLUMN embedding_vec vector;
    END IF;
END
$$;
`
