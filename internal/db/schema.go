package db

// SchemaSQL defines the attachment table. Record tables stay schemaless so
// any collection shape can be written.
const SchemaSQL = `
    -- ==========================================================================
    -- ATTACHMENT TABLE
    -- ==========================================================================
    -- One row per stored file, owned by (collection, record, field).
    DEFINE TABLE IF NOT EXISTS attachment SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS collection ON attachment TYPE string;
    DEFINE FIELD IF NOT EXISTS record ON attachment TYPE string;
    DEFINE FIELD IF NOT EXISTS field ON attachment TYPE string;
    DEFINE FIELD IF NOT EXISTS name ON attachment TYPE string;
    DEFINE FIELD IF NOT EXISTS position ON attachment TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS data ON attachment TYPE bytes;
    DEFINE FIELD IF NOT EXISTS size ON attachment TYPE int;
    DEFINE FIELD IF NOT EXISTS created ON attachment TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS attachment_owner ON attachment FIELDS collection, record;
    DEFINE INDEX IF NOT EXISTS attachment_name ON attachment FIELDS collection, record, name UNIQUE;
`
