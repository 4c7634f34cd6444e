package db

// SchemaSQL defines the pipeline tables. Tables stay SCHEMALESS so optional
// fields may hold NULL; the fields every query filters on are typed.
//
// Record ids carry the natural keys:
//   - ingestion_task:⟨<filing_id>|<source>⟩
//   - filing:⟨<filing_id>⟩
//   - ie_event:⟨<sha256>⟩
//   - backfill_job:⟨<YYYY-MM-DD>|<3x|e>⟩
//   - committee:⟨<committee_id>⟩
//   - app_config:⟨<key>⟩
const SchemaSQL = `
    -- ==========================================================================
    -- CLAIM LEDGER
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS ingestion_task SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS filing_id ON ingestion_task TYPE int;
    DEFINE FIELD IF NOT EXISTS source ON ingestion_task TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON ingestion_task TYPE string
        ASSERT $value IN ["claimed", "downloading", "downloaded", "parsing", "ingested", "failed", "skipped"];
    DEFINE FIELD IF NOT EXISTS reset_at ON ingestion_task TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS created_at ON ingestion_task TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON ingestion_task TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS task_status_source ON ingestion_task FIELDS status, source;
    DEFINE INDEX IF NOT EXISTS task_updated ON ingestion_task FIELDS updated_at;

    -- ==========================================================================
    -- SUMMARY FILINGS (F3X)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS filing SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS filing_id ON filing TYPE int;
    DEFINE FIELD IF NOT EXISTS committee_id ON filing TYPE string;
    DEFINE FIELD IF NOT EXISTS source_url ON filing TYPE string;
    DEFINE FIELD IF NOT EXISTS threshold_flag ON filing TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS first_seen_at ON filing TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS filing_filed_at ON filing FIELDS filed_at;
    DEFINE INDEX IF NOT EXISTS filing_committee ON filing FIELDS committee_id;

    -- ==========================================================================
    -- ITEMIZED EVENTS (Schedule E)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS ie_event SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS event_id ON ie_event TYPE string;
    DEFINE FIELD IF NOT EXISTS filing_id ON ie_event TYPE int;
    DEFINE FIELD IF NOT EXISTS raw_line ON ie_event TYPE string;
    DEFINE FIELD IF NOT EXISTS first_seen_at ON ie_event TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS event_filing ON ie_event FIELDS filing_id;
    DEFINE INDEX IF NOT EXISTS event_filed_at ON ie_event FIELDS filed_at;

    -- ==========================================================================
    -- BACKFILL JOBS
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS backfill_job SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS target_date ON backfill_job TYPE datetime;
    DEFINE FIELD IF NOT EXISTS filing_type ON backfill_job TYPE string ASSERT $value IN ["3x", "e"];
    DEFINE FIELD IF NOT EXISTS status ON backfill_job TYPE string
        ASSERT $value IN ["pending", "running", "completed", "failed"];
    DEFINE FIELD IF NOT EXISTS filings_found ON backfill_job TYPE int DEFAULT 0;

    -- ==========================================================================
    -- COMMITTEES AND RUNTIME CONFIG
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS committee SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS committee_id ON committee TYPE string;
    DEFINE FIELD IF NOT EXISTS name ON committee TYPE string;

    DEFINE TABLE IF NOT EXISTS app_config SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS value ON app_config TYPE string;
`
